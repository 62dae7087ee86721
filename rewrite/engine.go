// Package rewrite turns a message containing emote tokens into an ordered
// plan of platform actions.
//
// A token is a prefix (local or remote) preceded by start of text or white
// space and followed by a run of word characters. Each resolved token becomes
// its own attachment message; the text around the tokens is redistributed
// over the original message (edited) and the new messages, in order.
package rewrite

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/emotebot/emote"
	"github.com/onnwee/emotebot/spoiler"
	"github.com/onnwee/emotebot/telemetry"
	"github.com/onnwee/emotebot/textemote"
)

// LocalFinder looks up bundled emotes. *emote.Catalog implements it.
type LocalFinder interface {
	FindByName(name string) (*emote.Emote, bool)
}

// RemoteResolver resolves platform emotes. *remote.Resolver implements it.
// A nil emote with a nil error means no match.
type RemoteResolver interface {
	Resolve(ctx context.Context, name string) (*emote.Emote, error)
}

// Request is one message as seen by the engine.
type Request struct {
	Content        string
	HasAttachments bool
	LocalPrefix    string
	RemotePrefix   string
	TextPrefix     string // used by Engine.Plan only
	Spoiler        bool
}

// Engine builds rewrite plans. Both finders are optional.
type Engine struct {
	Local  LocalFinder
	Remote RemoteResolver
}

// Plan runs text emote substitution and then the attachment rewrite. When
// substitution changed the content the plan starts with an edit carrying the
// substituted text, and the rewrite works on that text. It returns nil when
// there is nothing to do. A non-nil error reports remote resolution failures;
// the plan is still valid and should be executed.
func (e *Engine) Plan(ctx context.Context, req Request) (*Plan, error) {
	substituted := textemote.Apply(req.Content, req.TextPrefix)
	var lead []Action
	if substituted != req.Content {
		lead = append(lead, Action{Kind: EditOriginal, Text: substituted})
		req.Content = substituted
	}

	plan, err := e.Rewrite(ctx, req)
	if len(lead) == 0 {
		return plan, err
	}
	if plan == nil {
		return &Plan{Actions: lead}, err
	}
	plan.Actions = append(lead, plan.Actions...)
	return plan, err
}

// Rewrite builds the attachment plan for req. It returns a nil plan when the
// content holds no token that resolves to an emote, in which case the message
// must be left untouched.
//
// Errors from the remote resolver do not abort the rewrite: the failing token
// is kept as literal text and every such error is joined into the returned
// error.
func (e *Engine) Rewrite(ctx context.Context, req Request) (*Plan, error) {
	if !contains(req.Content, req.LocalPrefix) && !contains(req.Content, req.RemotePrefix) {
		return nil, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "rewrite", "rewrite.plan",
		attribute.Int("content.length", len(req.Content)),
		attribute.Bool("spoiler", req.Spoiler))
	defer span.End()
	start := time.Now()
	defer func() {
		if telemetry.RewriteDuration != nil {
			telemetry.RewriteDuration.Observe(time.Since(start).Seconds())
		}
	}()

	segments, captures := tokenize(req.Content, req.LocalPrefix, req.RemotePrefix)
	if len(captures) == 0 {
		return nil, nil
	}

	resolved := make([]*emote.Emote, len(captures))
	var errs []error
	found := false
	for i, c := range captures {
		em, err := e.resolve(ctx, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if em != nil {
			resolved[i] = em
			found = true
		}
	}
	resErr := errors.Join(errs...)
	if resErr != nil {
		telemetry.RecordError(span, resErr)
	}
	if !found {
		return nil, resErr
	}

	plan := build(segments, captures, resolved, req.Spoiler)
	if !hasEdit(plan.Actions) {
		if req.HasAttachments {
			plan.Actions = append(plan.Actions, Action{Kind: EditOriginal})
		} else {
			plan.DeleteOriginal = true
		}
	}
	span.SetAttributes(
		attribute.Int("plan.actions", len(plan.Actions)),
		attribute.Bool("plan.delete_original", plan.DeleteOriginal))
	if resErr == nil {
		telemetry.SetSpanSuccess(span)
	}
	return plan, resErr
}

func (e *Engine) resolve(ctx context.Context, c capture) (*emote.Emote, error) {
	if c.local {
		if e.Local == nil {
			return nil, nil
		}
		em, ok := e.Local.FindByName(c.name)
		if !ok {
			return nil, nil
		}
		return em, nil
	}
	if e.Remote == nil {
		return nil, nil
	}
	return e.Remote.Resolve(ctx, c.name)
}

// build walks segments and captures left to right, flushing the text buffer
// into an action at every resolved emote.
func build(segments []string, captures []capture, resolved []*emote.Emote, spoilerMode bool) *Plan {
	plan := &Plan{}
	var buf strings.Builder
	emitted := false
	for i, c := range captures {
		buf.WriteString(segments[i])
		em := resolved[i]
		if em == nil {
			buf.WriteString(c.literal())
			continue
		}
		buf.WriteString(c.space)
		text := buf.String()
		buf.Reset()
		if blank(text, spoilerMode) {
			text = ""
		} else if spoilerMode {
			text = spoiler.Wrap(text)
		}

		if !emitted && text != "" {
			plan.Actions = append(plan.Actions,
				Action{Kind: EditOriginal, Text: text},
				Action{Kind: SendAttachment, Emote: em})
		} else {
			plan.Actions = append(plan.Actions, Action{Kind: SendAttachment, Text: text, Emote: em})
		}
		emitted = true
	}
	buf.WriteString(segments[len(captures)])

	if tail := strings.TrimSpace(buf.String()); !blank(tail, spoilerMode) {
		if spoilerMode {
			tail = spoiler.Wrap(tail)
		}
		plan.Actions = append(plan.Actions, Action{Kind: SendText, Text: tail})
	}
	return plan
}

// blank reports whether text has nothing worth sending. In spoiler mode a
// lone marker pair counts as nothing.
func blank(text string, spoilerMode bool) bool {
	if spoilerMode {
		return spoiler.IsTrivial(text)
	}
	return strings.TrimSpace(text) == ""
}

func hasEdit(actions []Action) bool {
	for _, a := range actions {
		if a.Kind == EditOriginal {
			return true
		}
	}
	return false
}

func contains(content, prefix string) bool {
	return prefix != "" && strings.Contains(content, prefix)
}
