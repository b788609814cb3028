package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "WALL_FEED", cfg.Feed.Stream)
	assert.Equal(t, 64, cfg.Session.QueueSize)
	assert.Equal(t, Duration(2*time.Second), cfg.NATS.MaxBackoff)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().NATS.URL, cfg.NATS.URL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"nats": {"url": "nats://broker:4222"},
		"feed": {"stream": "CUSTOM"},
		"session": {"queue_size": 16, "principal": "alice"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "CUSTOM", cfg.Feed.Stream)
	assert.Equal(t, 16, cfg.Session.QueueSize)
	assert.Equal(t, "alice", cfg.Session.Principal)
}

func TestLoad_DurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"nats": {"url": "nats://broker:4222", "max_backoff": "3s"},
		"cache": {"ttl": "5m", "cleanup": 30000000000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.NATS.MaxBackoff.Std())
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Cache.Cleanup.Std())
}

func TestLoad_BadDurationString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache": {"ttl": "soon"}}`), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nats": {"url": "nats://file:4222"}}`), 0o600))

	t.Setenv("CHATRELAY_NATS_URL", "nats://env:4222")
	t.Setenv("CHATRELAY_QUEUE_SIZE", "128")
	t.Setenv("CHATRELAY_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 128, cfg.Session.QueueSize)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }, true},
		{"missing stream", func(c *Config) { c.Feed.Stream = "" }, true},
		{"zero queue size", func(c *Config) { c.Session.QueueSize = 0 }, true},
		{"negative ttl", func(c *Config) { c.Cache.TTL = Duration(-time.Second) }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"json log format", func(c *Config) { c.Log.Format = "json" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
