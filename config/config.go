// Package config loads the YAML config file, overlays EMOTEBOT_* environment
// variables, and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with a minimal file.
// Use Validate before starting user sessions.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/emotebot/crypto"
)

const (
	// EnvPrefix marks environment overrides. A double underscore separates
	// nesting levels: EMOTEBOT_TWITCH__CLIENT_ID sets twitch.client_id.
	EnvPrefix = "EMOTEBOT_"
	// KeyEnv names the variable holding the key for sealed values.
	KeyEnv = EnvPrefix + "ENCRYPTION_KEY"
)

// ErrNoActiveUsers is returned by Validate when no user is active.
var ErrNoActiveUsers = errors.New("no active users configured")

type Config struct {
	LogLevel  string        `koanf:"log_level"`
	LogFormat string        `koanf:"log_format"`
	Logging   LoggingConfig `koanf:"logging"`
	Assets    AssetsConfig  `koanf:"assets"`
	WWW       WWWConfig     `koanf:"www"`
	Twitch    TwitchConfig  `koanf:"twitch"`
	Tracing   TracingConfig `koanf:"tracing"`
	Users     []User        `koanf:"users"`

	raw map[string]interface{}
}

type LoggingConfig struct {
	File string `koanf:"file"`
}

type AssetsConfig struct {
	Dir      string   `koanf:"dir"`
	Kinds    []string `koanf:"kinds"`
	CacheDir string   `koanf:"cache_dir"`
}

type WWWConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	BaseURL  string `koanf:"base_url"`
	PagesDir string `koanf:"pages_dir"`
}

type TwitchConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	// Broadcaster logins whose channel emotes join the remote table.
	Channels []string `koanf:"channels"`
	// Channels the harvester watches for emotes.
	HarvestChannels []string `koanf:"harvest_channels"`
}

// TracingConfig controls the OTLP trace exporter. Tracing stays off while
// Endpoint is empty.
type TracingConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	TLS         bool    `koanf:"tls"`
	SampleRatio float64 `koanf:"sample_ratio"`
	Environment string  `koanf:"environment"`
}

// User is one chat identity the service acts for.
type User struct {
	Name              string `koanf:"name"`
	Active            bool   `koanf:"active"`
	ID                string `koanf:"id"`
	Token             string `koanf:"token"`
	Bot               bool   `koanf:"bot"`
	CommandPrefix     string `koanf:"command_prefix"`
	EmotePrefix       string `koanf:"emote_prefix"`
	RemoteEmotePrefix string `koanf:"remote_emote_prefix"`
	TextEmotePrefix   string `koanf:"text_emote_prefix"`
}

// LoadDotEnv loads .env files if present (local dev convenience only;
// production relies on real env).
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads path (a missing file is not an error), overlays the environment,
// applies defaults, and opens sealed secrets. It doesn't validate; call
// Validate when users are required.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.raw = k.Raw()
	cfg.applyDefaults()

	if err := cfg.openSecrets(os.Getenv(KeyEnv)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv("LOG_LEVEL")
	}
	if c.LogFormat == "" {
		c.LogFormat = os.Getenv("LOG_FORMAT")
	}
	if c.Assets.Dir == "" {
		c.Assets.Dir = "assets"
	}
	if len(c.Assets.Kinds) == 0 {
		c.Assets.Kinds = []string{"emojis", "gifs", "sounds"}
	}
	if c.Assets.CacheDir == "" {
		c.Assets.CacheDir = filepath.Join(c.Assets.Dir, "twitchemotes")
	}
	if c.WWW.Addr == "" {
		c.WWW.Addr = ":8080"
	}
	if c.WWW.PagesDir == "" {
		c.WWW.PagesDir = "pages"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	for i := range c.Users {
		if c.Users[i].Name == "" {
			c.Users[i].Name = fmt.Sprintf("user%d", i)
		}
	}
}

// openSecrets decrypts every "enc:" value in place.
func (c *Config) openSecrets(key string) error {
	fields := []*string{&c.Twitch.ClientSecret}
	for i := range c.Users {
		fields = append(fields, &c.Users[i].Token)
	}

	var sealer *crypto.Sealer
	for _, f := range fields {
		if !crypto.IsSealed(*f) {
			continue
		}
		if sealer == nil {
			if key == "" {
				return fmt.Errorf("config holds sealed values but %s is not set", KeyEnv)
			}
			s, err := crypto.NewSealer(key)
			if err != nil {
				return fmt.Errorf("%s: %w", KeyEnv, err)
			}
			sealer = s
		}
		plain, err := sealer.Open(*f)
		if err != nil {
			return fmt.Errorf("open sealed config value: %w", err)
		}
		*f = plain
	}
	return nil
}

// AssetDirs returns the local emote directories, one per kind.
func (c *Config) AssetDirs() []string {
	dirs := make([]string, 0, len(c.Assets.Kinds))
	for _, k := range c.Assets.Kinds {
		dirs = append(dirs, filepath.Join(c.Assets.Dir, k))
	}
	return dirs
}

// ActiveUsers returns the users marked active.
func (c *Config) ActiveUsers() []User {
	var out []User
	for _, u := range c.Users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out
}

// HasTwitchCredentials reports whether Helix calls can be authenticated.
func (c *Config) HasTwitchCredentials() bool {
	return c.Twitch.ClientID != "" && c.Twitch.ClientSecret != ""
}

// Validate checks the fields the run command needs.
func (c *Config) Validate() error {
	active := c.ActiveUsers()
	if len(active) == 0 {
		return ErrNoActiveUsers
	}
	for _, u := range active {
		if u.ID == "" || u.Token == "" {
			return fmt.Errorf("user %s: id and token are required", u.Name)
		}
		if u.EmotePrefix == "" && u.RemoteEmotePrefix == "" && u.TextEmotePrefix == "" && u.CommandPrefix == "" {
			return fmt.Errorf("user %s: at least one prefix is required", u.Name)
		}
	}
	if c.WWW.Enabled && c.WWW.Addr == "" {
		return fmt.Errorf("www.addr is required when www is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// Redacted returns the loaded config tree as YAML with tokens and secrets masked.
func (c *Config) Redacted() ([]byte, error) {
	masked, _ := redact(c.raw).(map[string]interface{})
	if masked == nil {
		masked = map[string]interface{}{}
	}
	return yaml.Parser().Marshal(masked)
}

func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSecretKey(k) {
				out[k] = "***"
				continue
			}
			out[k] = redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = redact(val)
		}
		return out
	default:
		return v
	}
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "key")
}
