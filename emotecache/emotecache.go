// Package emotecache pre-populates the remote emote cache in bulk.
//
// It lists the Twitch global emotes plus the emotes of the configured
// channels, then downloads every image that is not cached yet with a bounded
// worker pool. Requests to the CDN are paced by a token bucket so a full
// refresh does not hammer it.
package emotecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/onnwee/emotebot/remote"
	"github.com/onnwee/emotebot/telemetry"
	"github.com/onnwee/emotebot/twitchapi"
)

const (
	// DefaultWorkers is the download concurrency used when Options.Workers is unset.
	DefaultWorkers = 4
	// DefaultRate is the CDN request rate used when Options.Rate is unset.
	DefaultRate = rate.Limit(20)

	origin = "bulk"
)

// Source lists emotes and downloads their images.
type Source interface {
	GetUserID(ctx context.Context, login string) (string, error)
	GetGlobalEmotes(ctx context.Context) ([]twitchapi.Emote, error)
	GetChannelEmotes(ctx context.Context, broadcasterID string) ([]twitchapi.Emote, error)
	remote.Fetcher
}

// Options tune a bulk download.
type Options struct {
	Channels []string   // channel logins whose custom emotes are included
	Workers  int        // concurrent downloads
	Rate     rate.Limit // CDN requests per second; rate.Inf disables pacing
	Clean    bool       // empty the cache before downloading
	Progress time.Duration
}

// Result summarizes a bulk download.
type Result struct {
	Listed     int
	Downloaded int
	Skipped    int
	Failed     int
}

func (r Result) String() string {
	return fmt.Sprintf("listed=%d downloaded=%d skipped=%d failed=%d", r.Listed, r.Downloaded, r.Skipped, r.Failed)
}

// List collects the global emotes and the emotes of every channel into one
// table. A channel that cannot be resolved is logged and left out; failing to
// list the global emotes is an error.
func List(ctx context.Context, src Source, channels []string) (*remote.Table, error) {
	global, err := src.GetGlobalEmotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list global emotes: %w", err)
	}
	lists := [][]twitchapi.Emote{global}
	for _, login := range channels {
		id, err := src.GetUserID(ctx, login)
		if err != nil {
			slog.Warn("skipping channel", slog.String("channel", login), slog.Any("err", err), slog.String("component", "emotecache"))
			continue
		}
		emotes, err := src.GetChannelEmotes(ctx, id)
		if err != nil {
			slog.Warn("skipping channel", slog.String("channel", login), slog.Any("err", err), slog.String("component", "emotecache"))
			continue
		}
		lists = append(lists, emotes)
	}
	return remote.TableFromHelix(lists...), nil
}

// Run lists the emotes and downloads the missing ones into cache.
// Individual download failures are counted, not returned.
func Run(ctx context.Context, src Source, cache *remote.Cache, opts Options) (Result, error) {
	if opts.Clean {
		if err := cache.Reset(); err != nil {
			return Result{}, fmt.Errorf("clean cache: %w", err)
		}
	}
	table, err := List(ctx, src, opts.Channels)
	if err != nil {
		return Result{}, err
	}
	return Download(ctx, src, cache, table.Refs(), opts)
}

// Download fetches every ref that is not cached yet.
func Download(ctx context.Context, f remote.Fetcher, cache *remote.Cache, refs []remote.Ref, opts Options) (Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	limit := opts.Rate
	if limit <= 0 {
		limit = DefaultRate
	}
	limiter := rate.NewLimiter(limit, workers)

	var downloaded, skipped, failed atomic.Int64
	stopProgress := logProgress(ctx, opts.Progress, len(refs), &downloaded, &skipped, &failed)
	defer stopProgress()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		if cache.Has(ref.Name) {
			skipped.Add(1)
			telemetry.CacheDownload(origin, "skipped")
			continue
		}
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			if err := fetchInto(gctx, f, cache, ref); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				telemetry.CacheDownload(origin, "error")
				slog.Warn("emote download failed", slog.String("name", ref.Name), slog.String("id", ref.ID), slog.Any("err", err), slog.String("component", "emotecache"))
				return nil
			}
			downloaded.Add(1)
			telemetry.CacheDownload(origin, "ok")
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	res := Result{
		Listed:     len(refs),
		Downloaded: int(downloaded.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return res, fmt.Errorf("bulk download interrupted: %w", err)
	}
	return res, err
}

// fetchInto downloads one emote image and stores it under its name. Bulk
// downloads are counted by CacheDownload only; the remote fetch metrics
// describe on-demand resolution.
func fetchInto(ctx context.Context, f remote.Fetcher, cache *remote.Cache, ref remote.Ref) error {
	data, err := f.FetchEmoteImage(ctx, ref.ID)
	if err != nil {
		return err
	}
	return cache.Write(ref.Name, data)
}

// logProgress logs the counters every interval until the returned func is called.
func logProgress(ctx context.Context, every time.Duration, total int, downloaded, skipped, failed *atomic.Int64) func() {
	if every <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slog.Info("emote download progress",
					slog.Int64("done", downloaded.Load()+skipped.Load()+failed.Load()),
					slog.Int("total", total),
					slog.Int64("failed", failed.Load()),
					slog.String("component", "emotecache"))
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
