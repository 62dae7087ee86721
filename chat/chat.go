package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"

	"github.com/onnwee/emotebot/remote"
	"github.com/onnwee/emotebot/telemetry"
)

const (
	// DefaultRate paces CDN downloads started from chat.
	DefaultRate = rate.Limit(2)

	queueSize = 256
	origin    = "harvest"
)

// Harvester fills a remote.Cache with the emotes seen in Twitch chat.
type Harvester struct {
	channels []string
	cache    *remote.Cache
	fetcher  remote.Fetcher
	limiter  *rate.Limiter

	queue chan remote.Ref
	mu    sync.Mutex
	seen  map[string]struct{}
}

// NewHarvester returns a harvester for channels. A non-positive limit uses DefaultRate.
func NewHarvester(channels []string, cache *remote.Cache, fetcher remote.Fetcher, limit rate.Limit) *Harvester {
	if limit <= 0 {
		limit = DefaultRate
	}
	return &Harvester{
		channels: channels,
		cache:    cache,
		fetcher:  fetcher,
		limiter:  rate.NewLimiter(limit, 1),
		queue:    make(chan remote.Ref, queueSize),
		seen:     make(map[string]struct{}),
	}
}

// Run connects to chat and harvests until ctx is canceled.
func (h *Harvester) Run(ctx context.Context) error {
	if len(h.channels) == 0 {
		slog.Info("no harvest channels configured; chat harvester idle", slog.String("component", "chat"))
		<-ctx.Done()
		return nil
	}

	client := twitch.NewAnonymousClient()
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		h.observe(msg.Emotes)
	})
	client.OnConnect(func() {
		slog.Info("chat harvester connected", slog.Any("channels", h.channels), slog.String("component", "chat"))
	})
	client.Join(h.channels...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		h.work(ctx)
	}()

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
	}()

	err := client.Connect()
	stopped := ctx.Err() != nil
	cancel()
	<-workerDone
	if stopped || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// observe queues every emote that is neither cached nor already queued.
// It never blocks the IRC reader: when the queue is full the emote is
// dropped and retried the next time it appears in chat.
func (h *Harvester) observe(emotes []*twitch.Emote) {
	for _, e := range emotes {
		if e == nil || e.ID == "" || e.Name == "" {
			continue
		}
		name := strings.ToLower(e.Name)
		if !h.claim(name) {
			continue
		}
		if h.cache.Has(name) {
			continue
		}
		select {
		case h.queue <- remote.Ref{Name: name, ID: e.ID}:
		default:
			h.release(name)
			slog.Debug("harvest queue full", slog.String("name", name), slog.String("component", "chat"))
		}
	}
}

func (h *Harvester) claim(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[name]; ok {
		return false
	}
	h.seen[name] = struct{}{}
	return true
}

func (h *Harvester) release(name string) {
	h.mu.Lock()
	delete(h.seen, name)
	h.mu.Unlock()
}

// work downloads queued emotes one at a time until ctx is canceled.
func (h *Harvester) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-h.queue:
			if err := h.limiter.Wait(ctx); err != nil {
				return
			}
			h.fetch(ctx, ref)
		}
	}
}

// fetch downloads one emote into the cache. A failed name is released so a
// later sighting retries it.
func (h *Harvester) fetch(ctx context.Context, ref remote.Ref) {
	data, err := h.fetcher.FetchEmoteImage(ctx, ref.ID)
	if err == nil {
		err = h.cache.Write(ref.Name, data)
	}
	if err != nil {
		h.release(ref.Name)
		telemetry.CacheDownload(origin, "error")
		slog.Warn("harvest emote failed", slog.String("name", ref.Name), slog.String("id", ref.ID), slog.Any("err", err), slog.String("component", "chat"))
		return
	}
	telemetry.CacheDownload(origin, "ok")
	slog.Debug("harvested emote", slog.String("name", ref.Name), slog.String("id", ref.ID), slog.String("component", "chat"))
}
