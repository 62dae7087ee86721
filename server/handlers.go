package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/onnwee/emotebot/emote"
	"github.com/onnwee/emotebot/telemetry"
)

// kindNames maps asset directories to the names shown in the library.
var kindNames = map[string]string{
	"emojis": "Emoji",
	"gifs":   "GIF",
	"sounds": "Sound",
}

// Handlers serve the listing routes.
type Handlers struct {
	catalog   *emote.Catalog
	assetsDir string
	pagesDir  string
}

// LibraryEntry is one emote in the library listing.
type LibraryEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// LibraryList groups the emotes of one kind.
type LibraryList struct {
	TypeName string         `json:"type_name"`
	Emotes   []LibraryEntry `json:"emotes"`
}

const indexPage = `<a href="library">Library</a><br>
<a href="palette">Palette</a>
`

// HandleIndex links to the library and the palette.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

// HandleLibrary lists local emotes grouped by kind, in catalog order.
func (h *Handlers) HandleLibrary(w http.ResponseWriter, r *http.Request) {
	lists := buildLibrary(h.catalog.Emotes(), h.assetsDir)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(lists); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("encode library", slog.Any("err", err))
	}
}

func buildLibrary(emotes []*emote.Emote, assetsDir string) []LibraryList {
	lists := []LibraryList{}
	index := map[string]int{}
	for _, e := range emotes {
		typeName := kindNames[e.Kind]
		i, ok := index[typeName]
		if !ok {
			i = len(lists)
			index[typeName] = i
			lists = append(lists, LibraryList{TypeName: typeName})
		}
		lists[i].Emotes = append(lists[i].Emotes, LibraryEntry{Name: e.Name, URL: assetURL(e.Path, assetsDir)})
	}
	return lists
}

// assetURL maps a file under assetsDir to its /assets/ URL.
func assetURL(p, assetsDir string) string {
	rel, err := filepath.Rel(assetsDir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(p)
	}
	return path.Join("/assets", filepath.ToSlash(rel))
}

// HandlePalette serves the palette page from the pages directory.
func (h *Handlers) HandlePalette(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(h.pagesDir, "palette.html"))
}

// HandleHealthz answers liveness checks with the number of loaded emotes.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"emotes": h.catalog.Count(),
	})
}
