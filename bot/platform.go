package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/emotebot/rewrite"
	"github.com/onnwee/emotebot/telemetry"
)

// ErrNoPlatform is returned when a plan is executed without a platform.
var ErrNoPlatform = errors.New("no chat platform")

// Message is one create or edit event, reduced to what the rewrite needs.
type Message struct {
	ID             string
	ChannelID      string
	AuthorID       string
	Content        string
	HasAttachments bool
	Edited         bool
}

// Platform executes actions against the chat service.
type Platform interface {
	Edit(ctx context.Context, channelID, messageID, text string) error
	Send(ctx context.Context, channelID, text string) error
	SendFile(ctx context.Context, channelID, text, fileName string, data []byte) error
	Delete(ctx context.Context, channelID, messageID string) error
}

// ActionError reports the plan action that failed. Actions before Index were
// applied; the rest were abandoned.
type ActionError struct {
	Index int
	Kind  rewrite.ActionKind
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Execute applies the plan's actions in order and stops at the first failure.
// It does not delete the original message; that is up to the caller.
func Execute(ctx context.Context, p Platform, msg Message, plan *rewrite.Plan) error {
	if plan == nil {
		return nil
	}
	if p == nil {
		return ErrNoPlatform
	}
	for i, a := range plan.Actions {
		var err error
		switch a.Kind {
		case rewrite.EditOriginal:
			err = p.Edit(ctx, msg.ChannelID, msg.ID, a.Text)
		case rewrite.SendText:
			err = p.Send(ctx, msg.ChannelID, a.Text)
		case rewrite.SendAttachment:
			err = p.SendFile(ctx, msg.ChannelID, a.Text, a.Emote.FileName, a.Emote.Data)
			if err == nil {
				telemetry.EmoteSent(source(a))
			}
		default:
			err = fmt.Errorf("unknown action kind %d", a.Kind)
		}
		telemetry.ActionDone(a.Kind.String(), err)
		if err != nil {
			return &ActionError{Index: i, Kind: a.Kind, Err: err}
		}
	}
	return nil
}

func source(a rewrite.Action) string {
	if a.Emote.Kind == "" {
		return "remote"
	}
	return "local"
}

// replier answers commands through a Platform.
type replier struct{ p Platform }

func (r replier) Reply(ctx context.Context, channelID, text string) error {
	return r.p.Send(ctx, channelID, text)
}
