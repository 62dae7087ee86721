// Command emotebot rewrites a chat user's own messages, replacing emote
// tokens with image attachments. It:
//   - Loads the YAML config (plus EMOTEBOT_* env overrides) and initializes
//     structured logging, metrics and optional tracing.
//   - Loads the local emote catalog and the Twitch remote emote table.
//   - Runs one Discord session and bot per active user, and optionally the
//     web listing with /healthz and /metrics.
//
// Other subcommands refresh the remote emote cache, harvest emotes from
// Twitch chat, print the redacted config, and seal tokens for the config file.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onnwee/emotebot/config"
	"github.com/onnwee/emotebot/telemetry"
)

const version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "emotebot",
	Short:         "Replace emote tokens in your chat messages with images",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runService,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(runCmd, fetchEmotesCmd, harvestCmd, printConfigCmd, encryptTokenCmd)
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	config.LoadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("emotebot failed", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
}

// setup loads the config and installs the default logger. The returned
// cleanup closes the log file, if any.
func setup() (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}
	closeLog, err := initLogging(cfg)
	if err != nil {
		return nil, nil, err
	}
	telemetry.Init()
	return cfg, closeLog, nil
}

// initLogging configures level and format (defaults: level=info, format=text)
// and tees output into logging.file when set.
func initLogging(cfg *config.Config) (func(), error) {
	var out io.Writer = os.Stdout
	closeLog := func() {}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeLog = func() { _ = f.Close() }
	}

	lvl := slog.LevelInfo
	unknownLevel := false
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		unknownLevel = true
	}

	format := strings.ToLower(cfg.LogFormat) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if unknownLevel {
		slog.Warn("unknown log level, using info", slog.String("value", cfg.LogLevel))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
	return closeLog, nil
}
