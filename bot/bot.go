// Package bot drives one chat session per configured user: it receives the
// user's own messages, runs them through the rewrite engine and the command
// dispatcher, and applies the result on the chat platform.
//
// Each Bot consumes its events from a single queue, so one user's messages
// are handled strictly in arrival order. Bots share the catalog, the remote
// table and the spoiler registry, and nothing else.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/emotebot/command"
	"github.com/onnwee/emotebot/rewrite"
	"github.com/onnwee/emotebot/spoiler"
	"github.com/onnwee/emotebot/telemetry"
)

// QueueSize is the number of pending events a bot buffers.
const QueueSize = 64

// Options are the per-user settings of a bot.
type Options struct {
	Name         string // used in logs
	UserID       string
	EmotePrefix  string
	RemotePrefix string
	TextPrefix   string
}

// Bot handles the messages of one user.
type Bot struct {
	opts     Options
	platform Platform
	engine   *rewrite.Engine
	commands *command.Dispatcher
	spoilers *spoiler.Registry
	events   chan Message
	log      *slog.Logger
}

// New returns a bot. commands and spoilers may be nil.
func New(opts Options, p Platform, engine *rewrite.Engine, commands *command.Dispatcher, spoilers *spoiler.Registry) *Bot {
	return &Bot{
		opts:     opts,
		platform: p,
		engine:   engine,
		commands: commands,
		spoilers: spoilers,
		events:   make(chan Message, QueueSize),
		log:      slog.Default().With(slog.String("component", "bot"), slog.String("user", opts.Name)),
	}
}

// Enqueue adds a message to the bot's queue, blocking while it is full.
func (b *Bot) Enqueue(ctx context.Context, msg Message) error {
	select {
	case b.events <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer queues msg without blocking and reports whether it was queued. A
// message that finds the queue full is left as the user wrote it.
func (b *Bot) Offer(msg Message) bool {
	select {
	case b.events <- msg:
		return true
	default:
		telemetry.MessageHandled("dropped")
		b.log.Warn("event queue full; message left unchanged",
			slog.String("channel", msg.ChannelID),
			slog.String("message", msg.ID),
			slog.Int("queue_size", cap(b.events)))
		return false
	}
}

// Run handles queued messages one at a time until ctx is done. Failures are
// logged and do not stop the loop.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("bot started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot stopped")
			return nil
		case msg := <-b.events:
			if err := b.HandleMessage(ctx, msg); err != nil {
				b.log.Error("message handling failed",
					slog.String("channel", msg.ChannelID),
					slog.String("message", msg.ID),
					slog.Any("err", err))
			}
		}
	}
}

// HandleMessage rewrites one message, runs a matching command when the
// message was not consumed, and deletes the original when either asks for it.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) error {
	if msg.AuthorID != b.opts.UserID {
		return nil
	}
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "bot", "bot.handle_message",
		attribute.String("channel.id", msg.ChannelID),
		attribute.Bool("message.edited", msg.Edited))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("user", b.opts.Name))

	spoilerOn := b.spoilers != nil && b.spoilers.IsEnabled(msg.ChannelID)
	plan, err := b.engine.Plan(ctx, rewrite.Request{
		Content:        msg.Content,
		HasAttachments: msg.HasAttachments,
		LocalPrefix:    b.opts.EmotePrefix,
		RemotePrefix:   b.opts.RemotePrefix,
		TextPrefix:     b.opts.TextPrefix,
		Spoiler:        spoilerOn,
	})
	if err != nil {
		log.Warn("some emotes could not be resolved", slog.Any("err", err))
	}

	outcome := "ignored"
	if plan != nil {
		log.Debug("executing plan", slog.String("plan", plan.String()))
		telemetry.TimeFunc(telemetry.ExecuteDuration, func() {
			err = Execute(ctx, b.platform, msg, plan)
		})
		if err != nil {
			telemetry.RecordError(span, err)
			telemetry.MessageHandled("error")
			return err
		}
		outcome = "rewritten"
		if plan.Attachments() == 0 {
			outcome = "text_only"
		}
	}

	remove := plan != nil && plan.DeleteOriginal
	if !remove && b.commands != nil {
		handled, err := b.commands.Dispatch(ctx, replier{b.platform}, msg.ChannelID, msg.ID, msg.Content)
		if err != nil {
			log.Error("command failed", slog.Any("err", err))
		}
		if handled {
			outcome = "command"
			remove = true
		}
	}

	if remove {
		err := b.platform.Delete(ctx, msg.ChannelID, msg.ID)
		telemetry.ActionDone("delete", err)
		if err != nil {
			telemetry.RecordError(span, err)
			telemetry.MessageHandled("error")
			return fmt.Errorf("delete original message: %w", err)
		}
	}
	telemetry.MessageHandled(outcome)
	telemetry.SetSpanSuccess(span)
	return nil
}
