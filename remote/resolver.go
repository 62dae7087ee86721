// Package remote resolves Twitch emote names to image data.
//
// Resolution checks the on-disk cache first (files written by the
// fetch-emotes and harvest commands) and only then falls back to a network
// fetch keyed by the name→id table that is built once from the Helix
// listing at startup.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/emotebot/emote"
	"github.com/onnwee/emotebot/telemetry"
	"github.com/onnwee/emotebot/twitchapi"
)

// MaxSearchResults caps the size of a Search result.
const MaxSearchResults = 50

// ErrEmptyQuery is returned by Search for an empty query.
var ErrEmptyQuery = errors.New("empty search query")

// Ref names a remote emote without its image.
type Ref struct {
	Name string
	ID   string
}

// Table is a read-only name→id index. It is safe for concurrent use once built.
type Table struct {
	refs []Ref
	ids  map[string]string
}

// NewTable builds a table from listing entries; names are lowercased and the
// first id listed for a name wins.
func NewTable(refs []Ref) *Table {
	t := &Table{ids: make(map[string]string, len(refs))}
	for _, r := range refs {
		name := strings.ToLower(r.Name)
		if name == "" || r.ID == "" {
			continue
		}
		if _, dup := t.ids[name]; dup {
			continue
		}
		t.ids[name] = r.ID
		t.refs = append(t.refs, Ref{Name: name, ID: r.ID})
	}
	return t
}

// TableFromHelix converts Helix listings into a table.
func TableFromHelix(lists ...[]twitchapi.Emote) *Table {
	var refs []Ref
	for _, list := range lists {
		for _, e := range list {
			refs = append(refs, Ref{Name: e.Name, ID: e.ID})
		}
	}
	return NewTable(refs)
}

// Lookup returns the id of name, ignoring case.
func (t *Table) Lookup(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	id, ok := t.ids[strings.ToLower(name)]
	return id, ok
}

// Refs returns the entries in listing order. The slice must not be modified.
func (t *Table) Refs() []Ref {
	if t == nil {
		return nil
	}
	return t.refs
}

// Len returns the number of names in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.refs)
}

// Fetcher downloads the image of a remote emote by id.
type Fetcher interface {
	FetchEmoteImage(ctx context.Context, id string) ([]byte, error)
}

// Resolver resolves names through the cache, then the table and Fetcher.
type Resolver struct {
	table   *Table
	cache   *Cache
	fetcher Fetcher
}

// NewResolver returns a resolver. table and fetcher may be nil, in which
// case only the cache is consulted.
func NewResolver(table *Table, cache *Cache, fetcher Fetcher) *Resolver {
	return &Resolver{table: table, cache: cache, fetcher: fetcher}
}

// Search returns up to limit table entries whose name contains query (or
// equals it when exact is set), ignoring case, in table order.
func (r *Resolver) Search(query string, limit int, exact bool) ([]Ref, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}
	if r.table == nil {
		return nil, nil
	}
	query = strings.ToLower(query)
	var out []Ref
	for _, ref := range r.table.refs {
		if len(out) == limit {
			break
		}
		if (exact && ref.Name == query) || (!exact && strings.Contains(ref.Name, query)) {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Resolve returns the emote called name, or nil when neither the cache nor
// the table knows it. Cache and network failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, name string) (*emote.Emote, error) {
	name = strings.ToLower(name)
	if r.cache != nil {
		data, ok, err := r.cache.Read(name)
		if errors.Is(err, ErrInvalidName) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if ok {
			telemetry.RemoteResolved("cache")
			return newEmote(name, data), nil
		}
	}

	id, ok := r.table.Lookup(name)
	if !ok || r.fetcher == nil {
		return nil, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "remote", "remote.fetch",
		attribute.String("emote.name", name), attribute.String("emote.id", id))
	defer span.End()
	start := time.Now()
	data, err := r.fetcher.FetchEmoteImage(ctx, id)
	telemetry.ObserveRemoteFetch(time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("fetch remote emote %q (id %s): %w", name, id, err)
	}
	telemetry.SetSpanSuccess(span)
	telemetry.LoggerWithCorr(ctx).Debug("remote emote fetched",
		slog.String("name", name), slog.String("id", id), slog.Int("bytes", len(data)))
	return newEmote(name, data), nil
}

func newEmote(name string, data []byte) *emote.Emote {
	return &emote.Emote{Name: name, FileName: name + ".png", Data: data}
}
