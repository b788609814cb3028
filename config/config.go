// Package config loads the relay configuration from a JSON file with
// environment overrides. Precedence, lowest to highest: built-in
// defaults, config file, CHATRELAY_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "CHATRELAY"

// Duration is a time.Duration that unmarshals from either a JSON string
// ("5m", "50ms") or a number of nanoseconds, so config files and
// environment overrides accept the same notation.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON renders the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "5m" style strings or nanosecond numbers.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}

// NATSConfig is the broker connection configuration.
type NATSConfig struct {
	URL           string   `json:"url"`
	Name          string   `json:"name,omitempty"`
	ReconnectStep Duration `json:"reconnect_step,omitempty"`
	MaxBackoff    Duration `json:"max_backoff,omitempty"`
	DrainTimeout  Duration `json:"drain_timeout,omitempty"`
}

// FeedConfig names the JetStream stream carrying datastore insert
// events.
type FeedConfig struct {
	Stream        string `json:"stream"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// StoreConfig selects the datastore backend. An empty PostgresURL
// selects the in-memory store.
type StoreConfig struct {
	PostgresURL string `json:"postgres_url,omitempty"`
}

// CacheConfig selects the derived-state cache backend. An empty
// RedisAddr selects the in-process TTL cache.
type CacheConfig struct {
	RedisAddr     string   `json:"redis_addr,omitempty"`
	RedisPassword string   `json:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db,omitempty"`
	TTL           Duration `json:"ttl,omitempty"`
	Cleanup       Duration `json:"cleanup,omitempty"`
}

// SessionConfig tunes the per-session event queue.
type SessionConfig struct {
	QueueSize int `json:"queue_size,omitempty"`
	// Principal is the user this process relays for; deployments that
	// bind the session at runtime leave it empty.
	Principal string `json:"principal,omitempty"`
}

// LogConfig controls slog setup.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty"` // empty disables the endpoint
}

// Config is the complete relay configuration.
type Config struct {
	NATS    NATSConfig    `json:"nats"`
	Feed    FeedConfig    `json:"feed"`
	Store   StoreConfig   `json:"store"`
	Cache   CacheConfig   `json:"cache"`
	Session SessionConfig `json:"session"`
	Log     LogConfig     `json:"log"`
	Metrics MetricsConfig `json:"metrics"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "chatrelay",
			ReconnectStep: Duration(50 * time.Millisecond),
			MaxBackoff:    Duration(2 * time.Second),
			DrainTimeout:  Duration(5 * time.Second),
		},
		Feed: FeedConfig{
			Stream:        "WALL_FEED",
			SubjectPrefix: "feed",
		},
		Cache: CacheConfig{
			TTL:     Duration(5 * time.Minute),
			Cleanup: Duration(time.Minute),
		},
		Session: SessionConfig{
			QueueSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: .env (if present), defaults, optional
// JSON file, then environment overrides. Validation runs last.
func Load(path string) (*Config, error) {
	// .env is a developer convenience; absence is not an error
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := getenv("NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := getenv("NATS_NAME"); val != "" {
		cfg.NATS.Name = val
	}
	if val := getenv("FEED_STREAM"); val != "" {
		cfg.Feed.Stream = val
	}
	if val := getenv("FEED_SUBJECT_PREFIX"); val != "" {
		cfg.Feed.SubjectPrefix = val
	}
	if val := getenv("POSTGRES_URL"); val != "" {
		cfg.Store.PostgresURL = val
	}
	if val := getenv("REDIS_ADDR"); val != "" {
		cfg.Cache.RedisAddr = val
	}
	if val := getenv("REDIS_PASSWORD"); val != "" {
		cfg.Cache.RedisPassword = val
	}
	if val := getenv("REDIS_DB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Cache.RedisDB = n
		}
	}
	if val := getenv("CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.TTL = Duration(d)
		}
	}
	if val := getenv("QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Session.QueueSize = n
		}
	}
	if val := getenv("PRINCIPAL"); val != "" {
		cfg.Session.Principal = val
	}
	if val := getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := getenv("METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + "_" + key)
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "nats.url is required")
	}
	if c.Feed.Stream == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "feed.stream is required")
	}
	if c.Session.QueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"config", "Validate", fmt.Sprintf("session.queue_size must be positive, got %d", c.Session.QueueSize))
	}
	if c.Cache.TTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"config", "Validate", "cache.ttl must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"config", "Validate", "log.format must be text or json")
	}
	return nil
}
