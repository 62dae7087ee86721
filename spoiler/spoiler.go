// Package spoiler tracks which channels have spoiler mode enabled and wraps
// text in spoiler markers.
package spoiler

import (
	"strings"
	"sync"
)

// Marker opens and closes a spoiler.
const Marker = "||"

// Registry is the set of channel ids with spoiler mode on. It is shared by
// every user session; all access goes through mu.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]struct{})}
}

// IsEnabled reports whether spoiler mode is on for the channel.
func (r *Registry) IsEnabled(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channelID]
	return ok
}

// Toggle flips spoiler mode for the channel and returns the new state.
func (r *Registry) Toggle(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; ok {
		delete(r.channels, channelID)
		return false
	}
	r.channels[channelID] = struct{}{}
	return true
}

// Len returns the number of channels in spoiler mode.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Wrap surrounds text with spoiler markers. Text that already starts and
// ends with a marker is returned as is, so Wrap(Wrap(x)) == Wrap(x).
func Wrap(text string) string {
	starts := strings.HasPrefix(text, Marker)
	ends := strings.HasSuffix(text, Marker)
	if starts && ends {
		return text
	}
	if !starts {
		text = Marker + " " + strings.TrimSpace(text)
	}
	if !ends {
		text = strings.TrimSpace(text) + " " + Marker
	}
	return text
}

// IsTrivial reports whether text carries no content: blank, or nothing but
// spoiler markers.
func IsTrivial(text string) bool {
	rest := strings.TrimSpace(text)
	for strings.HasPrefix(rest, Marker) {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, Marker))
	}
	return rest == ""
}
