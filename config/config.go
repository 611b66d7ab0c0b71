// Package config reads the service settings from defaults, an optional .env
// file, environment variables and command-line flags (in increasing priority).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	ListenAddr string

	RateEnabled       bool
	RateStore         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitPrefix   string
	RetryAfter        time.Duration
	AddHeaders        bool

	// IdentitySalt is static for the process lifetime.
	IdentityHash string
	IdentitySalt string

	Redis RedisConfig

	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration

	Stats StatsConfig

	Upstream UpstreamConfig

	Timezone string

	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StatsConfig struct {
	Enabled   bool
	Prefix    string
	TTL       time.Duration
	Series    string
	TrackKeys bool
}

type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// SetDefaults registers every key with its default. Keys map 1:1 to upper-case
// environment variables (listen_addr -> LISTEN_ADDR).
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")

	v.SetDefault("rate_enabled", true)
	v.SetDefault("rate_store", StoreRedis)
	v.SetDefault("rate_limit_requests", 10)
	v.SetDefault("rate_limit_window", time.Hour)
	v.SetDefault("rate_limit_prefix", "ratelimit")
	v.SetDefault("retry_after", time.Second)
	v.SetDefault("add_ratelimit_headers", false)

	v.SetDefault("identity_hash", "argon2id")
	v.SetDefault("identity_salt", "")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("concurrency_max", 20)
	v.SetDefault("concurrency_timeout", 5*time.Second)

	v.SetDefault("rate_stats_enabled", false)
	v.SetDefault("rate_stats_prefix", "ratelimit:stats")
	v.SetDefault("rate_stats_ttl", 24*time.Hour)
	v.SetDefault("rate_stats_series", "minute")
	v.SetDefault("rate_stats_track_keys", false)

	v.SetDefault("upstream_base_url", "https://www.classcharts.com")
	v.SetDefault("upstream_timeout", 15*time.Second)
	v.SetDefault("upstream_rps", 10.0)
	v.SetDefault("upstream_burst", 5)

	v.SetDefault("timezone", "Europe/London")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_enabled", true)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads the given .env files into the process environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and validates the configuration.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr: v.GetString("listen_addr"),

		RateEnabled:       v.GetBool("rate_enabled"),
		RateStore:         strings.ToLower(strings.TrimSpace(v.GetString("rate_store"))),
		RateLimitRequests: v.GetInt("rate_limit_requests"),
		RateLimitWindow:   v.GetDuration("rate_limit_window"),
		RateLimitPrefix:   v.GetString("rate_limit_prefix"),
		RetryAfter:        v.GetDuration("retry_after"),
		AddHeaders:        v.GetBool("add_ratelimit_headers"),

		IdentityHash: v.GetString("identity_hash"),
		IdentitySalt: v.GetString("identity_salt"),

		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},

		ConcurrencyMax:     v.GetInt("concurrency_max"),
		ConcurrencyTimeout: v.GetDuration("concurrency_timeout"),

		Stats: StatsConfig{
			Enabled:   v.GetBool("rate_stats_enabled"),
			Prefix:    v.GetString("rate_stats_prefix"),
			TTL:       v.GetDuration("rate_stats_ttl"),
			Series:    v.GetString("rate_stats_series"),
			TrackKeys: v.GetBool("rate_stats_track_keys"),
		},

		Upstream: UpstreamConfig{
			BaseURL: v.GetString("upstream_base_url"),
			Timeout: v.GetDuration("upstream_timeout"),
			RPS:     v.GetFloat64("upstream_rps"),
			Burst:   v.GetInt("upstream_burst"),
		},

		Timezone: v.GetString("timezone"),

		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		MetricsEnabled: v.GetBool("metrics_enabled"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("LISTEN_ADDR is required")
	}
	if c.RateEnabled {
		if c.RateStore != StoreRedis && c.RateStore != StoreMemory {
			return fmt.Errorf("RATE_STORE must be %q or %q, got %q", StoreRedis, StoreMemory, c.RateStore)
		}
		if c.RateLimitRequests <= 0 {
			return errors.New("RATE_LIMIT_REQUESTS must be > 0")
		}
		if c.RateLimitWindow <= 0 {
			return errors.New("RATE_LIMIT_WINDOW must be > 0")
		}
	}
	if c.usesRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("REDIS_ADDR is required when rate limits or stats use redis")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.Upstream.RPS <= 0 {
		return errors.New("UPSTREAM_RPS must be > 0")
	}
	if c.Upstream.Burst <= 0 {
		return errors.New("UPSTREAM_BURST must be > 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// UsesRedis reports whether a Redis client must be opened.
func (c Config) UsesRedis() bool { return c.usesRedis() }

func (c Config) usesRedis() bool {
	return (c.RateEnabled && c.RateStore == StoreRedis) || c.Stats.Enabled
}

// Location resolves Timezone; Validate already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
