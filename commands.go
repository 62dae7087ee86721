package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/onnwee/emotebot/bot"
	"github.com/onnwee/emotebot/chat"
	"github.com/onnwee/emotebot/command"
	"github.com/onnwee/emotebot/config"
	"github.com/onnwee/emotebot/crypto"
	"github.com/onnwee/emotebot/emote"
	"github.com/onnwee/emotebot/emotecache"
	"github.com/onnwee/emotebot/remote"
	"github.com/onnwee/emotebot/rewrite"
	"github.com/onnwee/emotebot/server"
	"github.com/onnwee/emotebot/spoiler"
	"github.com/onnwee/emotebot/telemetry"
	"github.com/onnwee/emotebot/twitchapi"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the chat sessions and the web listing (default)",
	Args:  cobra.NoArgs,
	RunE:  runService,
}

var (
	fetchWorkers int
	fetchRate    float64
	fetchClean   bool
)

var fetchEmotesCmd = &cobra.Command{
	Use:   "fetch-emotes",
	Short: "Download the Twitch global and channel emotes into the cache",
	Args:  cobra.NoArgs,
	RunE:  runFetchEmotes,
}

var harvestRate float64

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Watch Twitch chat and cache every emote seen",
	Args:  cobra.NoArgs,
	RunE:  runHarvest,
}

var printConfigCmd = &cobra.Command{
	Use:   "print-config",
	Short: "Print the loaded config with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runPrintConfig,
}

var encryptTokenCmd = &cobra.Command{
	Use:   "encrypt-token",
	Short: "Seal a token read from stdin for use in the config file",
	Long: `Reads one line from stdin and prints it sealed with the key in
` + config.KeyEnv + `. Paste the output ("enc:...") in place of the token.
With --generate-key a fresh key is printed instead.`,
	Args: cobra.NoArgs,
	RunE: runEncryptToken,
}

var generateKey bool

func init() {
	fetchEmotesCmd.Flags().IntVar(&fetchWorkers, "workers", emotecache.DefaultWorkers, "concurrent downloads")
	fetchEmotesCmd.Flags().Float64Var(&fetchRate, "rate", float64(emotecache.DefaultRate), "CDN requests per second")
	fetchEmotesCmd.Flags().BoolVar(&fetchClean, "clean", false, "empty the cache first")
	harvestCmd.Flags().Float64Var(&harvestRate, "rate", float64(chat.DefaultRate), "CDN requests per second")
	encryptTokenCmd.Flags().BoolVar(&generateKey, "generate-key", false, "print a new random key")
}

func runService(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdown, err := telemetry.InitTracing(telemetry.TracingOptions{
		ServiceName:    "emotebot",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		TLS:            cfg.Tracing.TLS,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdown()

	catalog, err := emote.Load(cfg.AssetDirs()...)
	if err != nil {
		return fmt.Errorf("load emote catalog: %w", err)
	}
	telemetry.SetGauge(telemetry.CatalogEmotes, float64(catalog.Count()))
	slog.Info("emote catalog loaded", slog.Int("emotes", catalog.Count()), slog.Any("dirs", cfg.AssetDirs()))

	helix := newHelixClient(ctx, cfg)
	table := loadRemoteTable(ctx, cfg, helix)
	resolver := remote.NewResolver(table, &remote.Cache{Dir: cfg.Assets.CacheDir}, helix)
	engine := &rewrite.Engine{Local: catalog, Remote: resolver}
	spoilers := spoiler.NewRegistry()

	users := cfg.ActiveUsers()
	slog.Info("starting sessions", slog.Int("user_count", len(users)))
	var sessions []bot.Session
	for _, u := range users {
		gw, err := bot.NewDiscord(u.Token, u.Bot)
		if err != nil {
			telemetry.SessionFailed(u.Name)
			slog.Error("error while starting bot for user", slog.String("user", u.Name), slog.Any("err", err))
			continue
		}
		var commands *command.Dispatcher
		if u.CommandPrefix != "" {
			commands = command.NewDispatcher(u.CommandPrefix,
				command.Spoiler{Registry: spoilers},
				command.Palette(cfg.WWW.BaseURL),
				command.Library(cfg.WWW.BaseURL),
				command.Search{Searcher: resolver},
			)
		}
		b := bot.New(bot.Options{
			Name:         u.Name,
			UserID:       u.ID,
			EmotePrefix:  u.EmotePrefix,
			RemotePrefix: u.RemoteEmotePrefix,
			TextPrefix:   u.TextEmotePrefix,
		}, gw, engine, commands, spoilers)
		sessions = append(sessions, bot.Session{Bot: b, Gateway: gw})
	}

	// Members log their own failures and return nil, so one failing user or
	// the web listing never stops the rest; the group only waits for shutdown.
	var g errgroup.Group
	g.Go(func() error {
		bot.ServeAll(ctx, sessions)
		return nil
	})
	if cfg.WWW.Enabled {
		g.Go(func() error {
			err := server.Start(ctx, cfg.WWW.Addr, server.Options{
				Catalog:   catalog,
				AssetsDir: cfg.Assets.Dir,
				PagesDir:  cfg.WWW.PagesDir,
			})
			if err != nil {
				slog.Error("web listing stopped", slog.String("addr", cfg.WWW.Addr), slog.Any("err", err))
			}
			return nil
		})
	}

	_ = g.Wait()
	slog.Info("shutting down")
	return nil
}

// newHelixClient returns a client for Helix and the CDN. Without Twitch
// credentials it can still download images, which need no token.
func newHelixClient(ctx context.Context, cfg *config.Config) *twitchapi.HelixClient {
	hc := &twitchapi.HelixClient{ClientID: cfg.Twitch.ClientID}
	if !cfg.HasTwitchCredentials() {
		return hc
	}
	ts, err := twitchapi.NewAppTokenSource(ctx, cfg.Twitch.ClientID, cfg.Twitch.ClientSecret, nil)
	if err != nil {
		slog.Warn("twitch app token source unavailable", slog.Any("err", err))
		return hc
	}
	hc.Tokens = ts
	return hc
}

// loadRemoteTable lists the remote emotes. Failure is not fatal: the
// resolver then serves only what is already cached.
func loadRemoteTable(ctx context.Context, cfg *config.Config, helix *twitchapi.HelixClient) *remote.Table {
	if helix.Tokens == nil {
		slog.Warn("twitch credentials not set; remote emotes limited to the cache", slog.String("component", "remote"))
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	table, err := emotecache.List(lctx, helix, cfg.Twitch.Channels)
	if err != nil {
		slog.Warn("remote emote listing failed; remote emotes limited to the cache",
			slog.Any("err", err), slog.String("component", "remote"))
		return nil
	}
	telemetry.SetGauge(telemetry.RemoteTableSize, float64(table.Len()))
	slog.Info("remote emote table loaded", slog.Int("emotes", table.Len()), slog.String("component", "remote"))
	return table
}

func runFetchEmotes(cmd *cobra.Command, _ []string) error {
	cfg, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()
	if !cfg.HasTwitchCredentials() {
		return errors.New("fetch-emotes needs twitch.client_id and twitch.client_secret")
	}

	helix := newHelixClient(cmd.Context(), cfg)
	start := time.Now()
	res, err := emotecache.Run(cmd.Context(), helix, &remote.Cache{Dir: cfg.Assets.CacheDir}, emotecache.Options{
		Channels: cfg.Twitch.Channels,
		Workers:  fetchWorkers,
		Rate:     rate.Limit(fetchRate),
		Clean:    fetchClean,
		Progress: time.Second,
	})
	slog.Info("emote fetch finished",
		slog.Int("listed", res.Listed),
		slog.Int("downloaded", res.Downloaded),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Duration("took", time.Since(start)))
	return err
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	cfg, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()
	if len(cfg.Twitch.HarvestChannels) == 0 {
		return errors.New("harvest needs twitch.harvest_channels")
	}
	h := chat.NewHarvester(cfg.Twitch.HarvestChannels,
		&remote.Cache{Dir: cfg.Assets.CacheDir},
		&twitchapi.HelixClient{},
		rate.Limit(harvestRate))
	return h.Run(cmd.Context())
}

func runPrintConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out, err := cfg.Redacted()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runEncryptToken(cmd *cobra.Command, _ []string) error {
	if generateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
		return err
	}

	sealer, err := crypto.NewSealer(os.Getenv(config.KeyEnv))
	if err != nil {
		return fmt.Errorf("%s: %w", config.KeyEnv, err)
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read token from stdin: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return errors.New("empty token")
	}
	sealed, err := sealer.Seal(token)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return err
}
