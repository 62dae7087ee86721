// Package emote holds the in-memory catalog of locally bundled emote assets.
//
// Assets are plain files grouped by kind in sibling directories
// (assets/emojis, assets/gifs, assets/sounds). The emote name is the file
// stem, lowercased. The catalog is loaded once at startup and is read-only
// afterwards, so a single *Catalog can be shared by every user session.
package emote

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Emote is a named binary asset that can be sent as an attachment.
type Emote struct {
	Name     string // lowercased lookup key
	FileName string // name used for the attachment
	Kind     string // containing directory (emojis, gifs, ...); empty for remote emotes
	Path     string // source path on disk; empty for fetched emotes
	Data     []byte
}

// LoadError reports the path that made a catalog load fail.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load emotes from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Catalog is a case-insensitive index of local emotes.
type Catalog struct {
	emotes []*Emote
	byName map[string]*Emote
}

// Load reads every regular file of each directory into memory; symlinks are
// followed. Any I/O error (a dangling link included) or a file name that is
// not valid UTF-8 aborts the whole load.
func Load(dirs ...string) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Emote)}
	for _, dir := range dirs {
		if err := c.loadDir(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &LoadError{Path: dir, Err: err}
	}
	kind := filepath.Base(filepath.Clean(dir))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		path := filepath.Join(dir, fileName)
		// Stat follows symlinks, so linked asset files load like regular ones.
		info, err := os.Stat(path)
		if err != nil {
			return &LoadError{Path: path, Err: err}
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if !utf8.ValidString(fileName) {
			return &LoadError{Path: path, Err: fmt.Errorf("file name is not valid UTF-8")}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return &LoadError{Path: path, Err: err}
		}
		c.add(&Emote{
			Name:     strings.ToLower(strings.TrimSuffix(fileName, filepath.Ext(fileName))),
			FileName: fileName,
			Kind:     kind,
			Path:     path,
			Data:     data,
		})
	}
	return nil
}

// add keeps the first emote registered under a name.
func (c *Catalog) add(e *Emote) {
	c.emotes = append(c.emotes, e)
	if _, exists := c.byName[e.Name]; !exists {
		c.byName[e.Name] = e
	}
}

// FindByName returns the emote with exactly this name, ignoring case.
func (c *Catalog) FindByName(name string) (*Emote, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.byName[strings.ToLower(name)]
	return e, ok
}

// Count returns the number of loaded assets.
func (c *Catalog) Count() int {
	if c == nil {
		return 0
	}
	return len(c.emotes)
}

// Emotes returns the loaded emotes in load order. The slice must not be modified.
func (c *Catalog) Emotes() []*Emote {
	if c == nil {
		return nil
	}
	return c.emotes
}
