package bot

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/emotebot/telemetry"
)

// Gateway is the connection of one account: it delivers the account's chat
// events and executes actions on its behalf.
type Gateway interface {
	Platform
	Run(ctx context.Context, handle func(Message)) error
}

// Session pairs a bot with the gateway of its account.
type Session struct {
	Bot     *Bot
	Gateway Gateway
}

// Serve runs the bot and its gateway until ctx is done or the gateway stops.
// Events are handed over with Offer, so the gateway reader never waits on
// the bot.
func (s Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Bot.Run(ctx)
	}()

	err := s.Gateway.Run(ctx, func(m Message) { s.Bot.Offer(m) })
	cancel()
	<-done
	return err
}

// ServeAll runs every session until ctx is done. A session that fails is
// logged and counted; the other sessions keep running.
func ServeAll(ctx context.Context, sessions []Session) {
	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Serve(ctx); err != nil {
				telemetry.SessionFailed(s.Bot.opts.Name)
				slog.Error("error while running bot for user",
					slog.String("user", s.Bot.opts.Name),
					slog.Any("err", err),
					slog.String("component", "bot"))
			}
			return nil
		})
	}
	_ = g.Wait()
}
