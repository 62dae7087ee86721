// Package server exposes the web listing of local emotes: an index page, the
// library as JSON, the palette page, the asset files themselves, plus health
// and metrics. It injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/emotebot/emote"
)

// Options configure the listing.
type Options struct {
	Catalog   *emote.Catalog
	AssetsDir string // served under /assets/
	PagesDir  string // holds palette.html
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, opts Options) http.Handler {
	return newMux(ctx, opts, defaultRateLimiterConfig())
}

func newMux(ctx context.Context, opts Options, rlCfg rateLimiterConfig) http.Handler {
	h := &Handlers{catalog: opts.Catalog, assetsDir: opts.AssetsDir, pagesDir: opts.PagesDir}
	limiter := newIPRateLimiter(ctx, rlCfg)

	listing := http.NewServeMux()
	listing.HandleFunc("/{$}", h.HandleIndex)
	listing.HandleFunc("/library", h.HandleLibrary)
	listing.HandleFunc("/palette", h.HandlePalette)
	listing.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(opts.AssetsDir))))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.Handle("/", withCORS(rateLimitMiddleware(listing, limiter)))

	return withCorrelation(mux)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, opts Options) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps ctx values while letting shutdown finish
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
