// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesHandled    *prometheus.CounterVec // outcome=rewritten|text_only|command|ignored|error|dropped
	ActionsExecuted    *prometheus.CounterVec // kind=edit|send_text|send_attachment|delete
	ActionsFailed      *prometheus.CounterVec // kind
	EmotesSent         *prometheus.CounterVec // source=local|remote
	RemoteResolutions  *prometheus.CounterVec // source=cache|network
	RemoteFetches      *prometheus.CounterVec // result=ok|error
	CacheDownloads     *prometheus.CounterVec // origin=bulk|harvest, result=ok|error|skipped
	CommandsDispatched *prometheus.CounterVec // command
	SessionFailures    *prometheus.CounterVec // user

	// Histograms (seconds)
	RewriteDuration     prometheus.Observer
	RemoteFetchDuration prometheus.Observer
	ExecuteDuration     prometheus.Observer

	// Gauges
	CatalogEmotes   prometheus.Gauge
	RemoteTableSize prometheus.Gauge
	SpoilerChannels prometheus.Gauge
	ActiveSessions  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_messages_handled_total", Help: "Messages seen from the configured users, by outcome"}, []string{"outcome"})
		ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_actions_executed_total", Help: "Platform actions executed successfully"}, []string{"kind"})
		ActionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_actions_failed_total", Help: "Platform actions that failed (rest of the plan abandoned)"}, []string{"kind"})
		EmotesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_emotes_sent_total", Help: "Emote attachments sent"}, []string{"source"})
		RemoteResolutions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_remote_resolutions_total", Help: "Remote emotes resolved, by source"}, []string{"source"})
		RemoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_remote_fetch_total", Help: "Remote emote network fetches"}, []string{"result"})
		CacheDownloads = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_cache_downloads_total", Help: "Emote images downloaded into the cache"}, []string{"origin", "result"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_commands_total", Help: "Commands dispatched"}, []string{"command"})
		SessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotebot_session_failures_total", Help: "User sessions that stopped with an error"}, []string{"user"})
		ExecuteDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emotebot_plan_execute_duration_seconds", Help: "Time to apply a rewrite plan on the chat platform", Buckets: prometheus.DefBuckets})
		RewriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emotebot_rewrite_duration_seconds", Help: "Time to build a rewrite plan, including remote fetches", Buckets: prometheus.DefBuckets})
		RemoteFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emotebot_remote_fetch_duration_seconds", Help: "Remote emote fetch duration seconds", Buckets: prometheus.DefBuckets})
		CatalogEmotes = promauto.NewGauge(prometheus.GaugeOpts{Name: "emotebot_catalog_emotes", Help: "Local emotes loaded"})
		RemoteTableSize = promauto.NewGauge(prometheus.GaugeOpts{Name: "emotebot_remote_table_size", Help: "Remote emote names known from the Helix listing"})
		SpoilerChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "emotebot_spoiler_channels", Help: "Channels with spoiler mode enabled"})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "emotebot_active_sessions", Help: "Connected user sessions"})
	})
}

func inc(v *prometheus.CounterVec, labels ...string) {
	if v != nil {
		v.WithLabelValues(labels...).Inc()
	}
}

// MessageHandled counts one handled message by outcome.
func MessageHandled(outcome string) { inc(MessagesHandled, outcome) }

// ActionDone counts an executed or failed platform action.
func ActionDone(kind string, err error) {
	if err != nil {
		inc(ActionsFailed, kind)
		return
	}
	inc(ActionsExecuted, kind)
}

// EmoteSent counts a sent emote attachment by source.
func EmoteSent(source string) { inc(EmotesSent, source) }

// RemoteResolved counts a remote emote resolution by source.
func RemoteResolved(source string) { inc(RemoteResolutions, source) }

// CacheDownload counts a cache download attempt.
func CacheDownload(origin, result string) { inc(CacheDownloads, origin, result) }

// SessionFailed counts a user session that stopped with an error.
func SessionFailed(user string) { inc(SessionFailures, user) }

// CommandDispatched counts a dispatched command.
func CommandDispatched(name string) { inc(CommandsDispatched, name) }

// ObserveRemoteFetch records the duration and outcome of a network fetch.
func ObserveRemoteFetch(d time.Duration, err error) {
	if RemoteFetchDuration != nil {
		RemoteFetchDuration.Observe(d.Seconds())
	}
	if err != nil {
		inc(RemoteFetches, "error")
		return
	}
	inc(RemoteFetches, "ok")
	inc(RemoteResolutions, "network")
}

// SetGauge sets g if it is registered.
func SetGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// AddGauge adds delta to g if it is registered.
func AddGauge(g prometheus.Gauge, delta float64) {
	if g != nil {
		g.Add(delta)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
