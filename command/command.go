// Package command matches a user's command prefix against message text and
// runs one of a fixed set of handlers.
package command

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/onnwee/emotebot/telemetry"
)

// Session is what a handler may do in response to a command.
type Session interface {
	Reply(ctx context.Context, channelID, text string) error
}

// Invocation describes one matched command.
type Invocation struct {
	ChannelID string
	MessageID string
	Name      string // the registered name that matched
	Args      string // text after the name, trimmed
}

// Handler runs a command registered under one or more names.
type Handler interface {
	Names() []string
	Handle(ctx context.Context, s Session, inv Invocation) error
}

type entry struct {
	name    string
	handler Handler
}

// Dispatcher resolves a command name to its handler. Names are tried longest
// first, so "spoilermode" is never taken for "spoil".
type Dispatcher struct {
	prefix  string
	entries []entry
}

// NewDispatcher registers handlers under prefix. An empty prefix disables
// dispatching.
func NewDispatcher(prefix string, handlers ...Handler) *Dispatcher {
	d := &Dispatcher{prefix: prefix}
	for _, h := range handlers {
		for _, n := range h.Names() {
			d.entries = append(d.entries, entry{name: strings.ToLower(n), handler: h})
		}
	}
	sort.SliceStable(d.entries, func(i, j int) bool {
		return len(d.entries[i].name) > len(d.entries[j].name)
	})
	return d
}

// Match returns the invocation for content, if it starts with the prefix and
// a registered name followed by white space or end of text.
func (d *Dispatcher) Match(content string) (Invocation, Handler, bool) {
	if d == nil || d.prefix == "" || !strings.HasPrefix(content, d.prefix) {
		return Invocation{}, nil, false
	}
	rest := content[len(d.prefix):]
	for _, e := range d.entries {
		if len(rest) < len(e.name) || !strings.EqualFold(rest[:len(e.name)], e.name) {
			continue
		}
		tail := rest[len(e.name):]
		if r, _ := utf8.DecodeRuneInString(tail); tail != "" && !unicode.IsSpace(r) {
			continue
		}
		return Invocation{Name: e.name, Args: strings.TrimSpace(tail)}, e.handler, true
	}
	return Invocation{}, nil, false
}

// Dispatch runs the handler matching content. handled reports whether a
// command matched, even when its handler failed.
func (d *Dispatcher) Dispatch(ctx context.Context, s Session, channelID, messageID, content string) (handled bool, err error) {
	inv, h, ok := d.Match(content)
	if !ok {
		return false, nil
	}
	inv.ChannelID = channelID
	inv.MessageID = messageID

	ctx, span := telemetry.StartSpan(ctx, "command", "command."+inv.Name)
	defer span.End()
	telemetry.CommandDispatched(inv.Name)
	telemetry.LoggerWithCorr(ctx).Info("command", slog.String("name", inv.Name), slog.String("channel", channelID))
	if err := h.Handle(ctx, s, inv); err != nil {
		telemetry.RecordError(span, err)
		return true, err
	}
	telemetry.SetSpanSuccess(span)
	return true, nil
}
