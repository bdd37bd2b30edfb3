package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
)

const sampleTOML = `
[log]
level = "debug"

[http]
port = 4000

[thresholds.scrobble]
duration = 45
percent = 60

[thresholds.positions]
repeat_seconds = 20

[mpd]
host = "music.local"
interval = "5s"

[[sources]]
type = "lastfm"
name = "lastfm-me"
user = "someone"
api_key = "key"
interval = "2m"

[sources.scrobble]
duration = 10

[[clients]]
type = "listenbrainz"
token = "tok"
user = "someone"
window_size = 50
window_ttl = "12h"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stellar.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3002, cfg.HTTP.Port)
	assert.Equal(t, "data/scrobbler.db", cfg.Cache.Path)
	assert.True(t, cfg.MPD.Enabled)
	assert.Equal(t, 6600, cfg.MPD.Port)
	assert.Equal(t, play.DefaultPositionThresholds(), cfg.Thresholds.Positions)
	assert.Nil(t, cfg.Thresholds.Scrobble.Duration)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4000, cfg.HTTP.Port)
	require.NotNil(t, cfg.Thresholds.Scrobble.Duration)
	assert.Equal(t, 45.0, *cfg.Thresholds.Scrobble.Duration)
	assert.Equal(t, 60.0, *cfg.Thresholds.Scrobble.Percent)
	assert.Equal(t, 20.0, cfg.Thresholds.Positions.RepeatSeconds)
	assert.Equal(t, play.DefaultCloseToStartSeconds, cfg.Thresholds.Positions.CloseToStartSeconds)

	assert.Equal(t, "music.local", cfg.MPD.Host)
	assert.Equal(t, 6600, cfg.MPD.Port)
	assert.Equal(t, 5*time.Second, cfg.MPD.Interval)

	require.Len(t, cfg.Sources, 1)
	src := cfg.Sources[0]
	assert.Equal(t, "lastfm-me", src.DisplayName())
	assert.Equal(t, 2*time.Minute, src.Interval)
	merged := src.ScrobbleThresholds(cfg.Thresholds.Scrobble)
	assert.Equal(t, 10.0, *merged.Duration)
	assert.Equal(t, 60.0, *merged.Percent)

	require.Len(t, cfg.Clients, 1)
	cl := cfg.Clients[0]
	assert.Equal(t, "listenbrainz", cl.DisplayName())
	assert.Equal(t, 50, cl.WindowSize)
	assert.Equal(t, 12*time.Hour, cl.WindowTTL)
	assert.True(t, cl.SendsNowPlaying())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STELLAR_HTTP__PORT", "5000")
	t.Setenv("STELLAR_MPD__HOST", "10.0.0.2")
	t.Setenv("STELLAR_THRESHOLDS__SCROBBLE__PERCENT", "75")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.HTTP.Port)
	assert.Equal(t, "10.0.0.2", cfg.MPD.Host)
	assert.Equal(t, 75.0, *cfg.Thresholds.Scrobble.Percent)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("STELLAR_LOG__LEVEL=warn\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("STELLAR_LOG__LEVEL") })

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load(writeConfig(t, "[http\nport ="))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	neg := -1.0
	over := 101.0

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "negative scrobble duration",
			mutate:  func(c *Config) { c.Thresholds.Scrobble.Duration = &neg },
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "percent above 100",
			mutate:  func(c *Config) { c.Thresholds.Scrobble.Percent = &over },
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "negative position threshold",
			mutate:  func(c *Config) { c.Thresholds.Positions.RepeatSeconds = -5 },
			wantErr: ErrInvalidThreshold,
		},
		{
			name: "per-source threshold",
			mutate: func(c *Config) {
				c.Sources = []SourceConfig{{Type: TypeLastfm, User: "u", APIKey: "k", Scrobble: &play.ScrobbleThresholds{Percent: &over}}}
			},
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "unknown source type",
			mutate:  func(c *Config) { c.Sources = []SourceConfig{{Type: "spotify"}} },
			wantErr: ErrInvalidSource,
		},
		{
			name:    "lastfm source without user",
			mutate:  func(c *Config) { c.Sources = []SourceConfig{{Type: TypeLastfm, APIKey: "k"}} },
			wantErr: ErrInvalidSource,
		},
		{
			name:    "source name clashes with local mpd",
			mutate:  func(c *Config) { c.Sources = []SourceConfig{{Type: TypeMPD, Host: "other"}} },
			wantErr: ErrInvalidSource,
		},
		{
			name:    "lastfm client without session",
			mutate:  func(c *Config) { c.Clients = []ClientConfig{{Type: TypeLastfm, APIKey: "k", APISecret: "s"}} },
			wantErr: ErrInvalidClient,
		},
		{
			name: "duplicate client names",
			mutate: func(c *Config) {
				c.Clients = []ClientConfig{{Type: TypeListenBrainz, Token: "a"}, {Type: TypeListenBrainz, Token: "b"}}
			},
			wantErr: ErrInvalidClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "http.port", envKey("STELLAR_HTTP__PORT"))
	assert.Equal(t, "thresholds.positions.close_to_start_seconds", envKey("STELLAR_THRESHOLDS__POSITIONS__CLOSE_TO_START_SECONDS"))
}
