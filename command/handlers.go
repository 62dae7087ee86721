package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/onnwee/emotebot/remote"
	"github.com/onnwee/emotebot/spoiler"
	"github.com/onnwee/emotebot/telemetry"
)

// Spoiler toggles spoiler mode for the invoking channel.
type Spoiler struct {
	Registry *spoiler.Registry
}

func (Spoiler) Names() []string {
	return []string{"spoiler", "spoil", "spoilermode", "spoilmode", "sm"}
}

func (h Spoiler) Handle(ctx context.Context, s Session, inv Invocation) error {
	on := h.Registry.Toggle(inv.ChannelID)
	telemetry.SetGauge(telemetry.SpoilerChannels, float64(h.Registry.Len()))
	state := "disabled"
	if on {
		state = "enabled"
	}
	return s.Reply(ctx, inv.ChannelID, "Spoiler mode "+state+".")
}

// Link replies with a fixed page of the web listing.
type Link struct {
	Name    string
	BaseURL string
	Path    string
}

// Palette links to the emote palette page.
func Palette(baseURL string) Link { return Link{Name: "palette", BaseURL: baseURL, Path: "/palette"} }

// Library links to the emote library listing.
func Library(baseURL string) Link { return Link{Name: "library", BaseURL: baseURL, Path: "/library"} }

func (l Link) Names() []string { return []string{l.Name} }

func (l Link) Handle(ctx context.Context, s Session, inv Invocation) error {
	if l.BaseURL == "" {
		return s.Reply(ctx, inv.ChannelID, "The web listing is not configured.")
	}
	return s.Reply(ctx, inv.ChannelID, strings.TrimRight(l.BaseURL, "/")+l.Path)
}

// Searcher finds remote emote names. *remote.Resolver implements it.
type Searcher interface {
	Search(query string, limit int, exact bool) ([]remote.Ref, error)
}

// SearchLimit is the number of names a search reply lists.
const SearchLimit = 10

// Search lists remote emotes whose name contains the argument.
type Search struct {
	Searcher Searcher
}

func (Search) Names() []string { return []string{"search"} }

func (h Search) Handle(ctx context.Context, s Session, inv Invocation) error {
	if inv.Args == "" {
		return s.Reply(ctx, inv.ChannelID, "Usage: search <name>")
	}
	refs, err := h.Searcher.Search(inv.Args, SearchLimit, false)
	if err != nil {
		return fmt.Errorf("search %q: %w", inv.Args, err)
	}
	if len(refs) == 0 {
		return s.Reply(ctx, inv.ChannelID, fmt.Sprintf("No emote matches %q.", inv.Args))
	}
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	return s.Reply(ctx, inv.ChannelID, strings.Join(names, " "))
}
