// Package config loads the service configuration from defaults, an optional TOML
// file and STELLAR_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
)

// EnvPrefix is the prefix of environment overrides. A double underscore separates
// keys: STELLAR_HTTP__PORT sets http.port.
const EnvPrefix = "STELLAR_"

// DefaultPath is the config file read when none is given.
const DefaultPath = "stellar.toml"

// Source and client types.
const (
	TypeMPD          = "mpd"
	TypeLastfm       = "lastfm"
	TypeListenBrainz = "listenbrainz"
)

var (
	// ErrInvalidThreshold indicates a negative duration or a percent outside 0-100.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInvalidSource indicates an unusable source definition.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidClient indicates an unusable scrobble client definition.
	ErrInvalidClient = errors.New("invalid client")
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	HTTP       HTTPConfig       `koanf:"http"`
	Cache      CacheConfig      `koanf:"cache"`
	Thresholds ThresholdsConfig `koanf:"thresholds"`

	// MPD is the local player; it becomes a source named "mpd" when enabled.
	MPD MPDConfig `koanf:"mpd"`

	Sources []SourceConfig `koanf:"sources"`
	Clients []ClientConfig `koanf:"clients"`
}

type LogConfig struct {
	Level string `koanf:"level"` // "debug", "info", "warn", "error"
}

type HTTPConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	AllowOrigin string `koanf:"allow_origin"` // CORS origin for dashboards
}

type CacheConfig struct {
	Path string `koanf:"path"`
}

// ThresholdsConfig holds the global scrobble and comparator thresholds.
type ThresholdsConfig struct {
	Scrobble  play.ScrobbleThresholds `koanf:"scrobble"`
	Positions play.PositionThresholds `koanf:"positions"`
}

type MPDConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	Interval   time.Duration `koanf:"interval"`
	StaleAfter time.Duration `koanf:"stale_after"`
	Debounce   time.Duration `koanf:"debounce"` // Idle event coalescing window
}

// SourceConfig defines an additional source.
type SourceConfig struct {
	Type       string        `koanf:"type"`
	Name       string        `koanf:"name"`
	Interval   time.Duration `koanf:"interval"`
	StaleAfter time.Duration `koanf:"stale_after"`

	// Scrobble overrides the global scrobble thresholds for this source.
	Scrobble *play.ScrobbleThresholds `koanf:"scrobble"`

	// Last.fm history
	User      string `koanf:"user"`
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`
	Limit     int    `koanf:"limit"`

	// MPD
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
}

// ClientConfig defines a scrobble client.
type ClientConfig struct {
	Type string `koanf:"type"`
	Name string `koanf:"name"`

	// Last.fm
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`

	// ListenBrainz
	Token string `koanf:"token"`
	URL   string `koanf:"url"`

	// User is the account whose listens are read back for duplicate checks.
	User string `koanf:"user"`

	WindowSize int           `koanf:"window_size"`
	WindowTTL  time.Duration `koanf:"window_ttl"`
	NowPlaying *bool         `koanf:"now_playing"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info"},
		HTTP:  HTTPConfig{Port: 3002, AllowOrigin: "*"},
		Cache: CacheConfig{Path: "data/scrobbler.db"},
		Thresholds: ThresholdsConfig{
			Positions: play.DefaultPositionThresholds(),
		},
		MPD: MPDConfig{
			Enabled:    true,
			Host:       "localhost",
			Port:       6600,
			Interval:   10 * time.Second,
			StaleAfter: 5 * time.Minute,
			Debounce:   250 * time.Millisecond,
		},
	}
}

// LoadDotEnv loads variables from the given .env files (".env" when none) into
// the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads path (skipped when it does not exist) and the environment over the
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps STELLAR_THRESHOLDS__SCROBBLE__DURATION to thresholds.scrobble.duration.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks thresholds, sources and clients.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if err := validateScrobble("thresholds.scrobble", c.Thresholds.Scrobble); err != nil {
		return err
	}
	if err := validatePositions(c.Thresholds.Positions); err != nil {
		return err
	}

	names := make(map[string]bool)
	if c.MPD.Enabled {
		if c.MPD.Host == "" || c.MPD.Port <= 0 {
			return fmt.Errorf("%w: mpd needs a host and port", ErrInvalidSource)
		}
		names[TypeMPD] = true
	}

	for i, s := range c.Sources {
		name := s.DisplayName()
		if names[name] {
			return fmt.Errorf("%w: duplicate source name %q", ErrInvalidSource, name)
		}
		names[name] = true

		switch s.Type {
		case TypeMPD:
			if s.Host == "" {
				return fmt.Errorf("%w: sources[%d] (%s) needs a host", ErrInvalidSource, i, name)
			}
		case TypeLastfm:
			if s.User == "" || s.APIKey == "" {
				return fmt.Errorf("%w: sources[%d] (%s) needs user and api_key", ErrInvalidSource, i, name)
			}
		default:
			return fmt.Errorf("%w: sources[%d] has unknown type %q", ErrInvalidSource, i, s.Type)
		}
		if s.Interval < 0 || s.StaleAfter < 0 {
			return fmt.Errorf("%w: sources[%d] (%s) has a negative interval", ErrInvalidSource, i, name)
		}
		if s.Scrobble != nil {
			if err := validateScrobble(fmt.Sprintf("sources[%d].scrobble", i), *s.Scrobble); err != nil {
				return err
			}
		}
	}

	clients := make(map[string]bool)
	for i, cl := range c.Clients {
		name := cl.DisplayName()
		if clients[name] {
			return fmt.Errorf("%w: duplicate client name %q", ErrInvalidClient, name)
		}
		clients[name] = true

		switch cl.Type {
		case TypeLastfm:
			if cl.APIKey == "" || cl.APISecret == "" || cl.SessionKey == "" {
				return fmt.Errorf("%w: clients[%d] (%s) needs api_key, api_secret and session_key", ErrInvalidClient, i, name)
			}
		case TypeListenBrainz:
			if cl.Token == "" {
				return fmt.Errorf("%w: clients[%d] (%s) needs a token", ErrInvalidClient, i, name)
			}
		default:
			return fmt.Errorf("%w: clients[%d] has unknown type %q", ErrInvalidClient, i, cl.Type)
		}
		if cl.WindowSize < 0 || cl.WindowTTL < 0 {
			return fmt.Errorf("%w: clients[%d] (%s) has a negative window", ErrInvalidClient, i, name)
		}
	}
	return nil
}

// DisplayName returns the configured name, or the type when unnamed.
func (s SourceConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// ScrobbleThresholds returns the source's thresholds merged over global.
func (s SourceConfig) ScrobbleThresholds(global play.ScrobbleThresholds) play.ScrobbleThresholds {
	out := global
	if s.Scrobble == nil {
		return out
	}
	if s.Scrobble.Duration != nil {
		out.Duration = s.Scrobble.Duration
	}
	if s.Scrobble.Percent != nil {
		out.Percent = s.Scrobble.Percent
	}
	return out
}

// DisplayName returns the configured name, or the type when unnamed.
func (c ClientConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}

// SendsNowPlaying reports whether the client should receive now playing updates.
// Defaults to true.
func (c ClientConfig) SendsNowPlaying() bool {
	return c.NowPlaying == nil || *c.NowPlaying
}

func validateScrobble(key string, t play.ScrobbleThresholds) error {
	if t.Duration != nil && *t.Duration < 0 {
		return fmt.Errorf("%w: %s.duration %v is negative", ErrInvalidThreshold, key, *t.Duration)
	}
	if t.Percent != nil && (*t.Percent < 0 || *t.Percent > 100) {
		return fmt.Errorf("%w: %s.percent %v outside 0-100", ErrInvalidThreshold, key, *t.Percent)
	}
	return nil
}

func validatePositions(t play.PositionThresholds) error {
	seconds := map[string]float64{
		"close_to_start_seconds": t.CloseToStartSeconds,
		"close_to_end_seconds":   t.CloseToEndSeconds,
		"repeat_seconds":         t.RepeatSeconds,
	}
	for k, v := range seconds {
		if v < 0 {
			return fmt.Errorf("%w: thresholds.positions.%s %v is negative", ErrInvalidThreshold, k, v)
		}
	}
	percents := map[string]float64{
		"close_to_start_percent": t.CloseToStartPercent,
		"close_to_end_percent":   t.CloseToEndPercent,
		"repeat_percent":         t.RepeatPercent,
	}
	for k, v := range percents {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: thresholds.positions.%s %v outside 0-100", ErrInvalidThreshold, k, v)
		}
	}
	return nil
}
