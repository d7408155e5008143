package config

import (
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/lyrebird/internal/otel"
)

// StoreConfig selects the run registry backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"` // memory, sqlite, redis
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// MusicConfig holds the MiniMax client settings.
type MusicConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Host    string `yaml:"host"`
	Model   string `yaml:"model"`

	TimeoutSeconds int `yaml:"timeout_seconds"`

	// FailureThreshold is the number of consecutive failures before the
	// circuit breaker opens. Default 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// CooldownSeconds is how long the breaker stays open before a probe. Default 60.
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// PipelineConfig holds defaults applied when a request leaves a field empty.
type PipelineConfig struct {
	FactLimit    int    `yaml:"fact_limit"`
	MessageCount int    `yaml:"message_count"`
	GraphSchema  string `yaml:"graph_schema"` // context, run
	DebugEvents  int    `yaml:"debug_events"`
}

// RetentionConfig bounds how long idle runs stay in the registry.
type RetentionConfig struct {
	Schedule      string `yaml:"schedule"`
	MaxAgeMinutes int    `yaml:"max_age_minutes"` // 0 keeps runs forever
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// AuthConfig enables bearer auth on /api/run routes when Token is set.
type AuthConfig struct {
	Token string `yaml:"token"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAge         int      `yaml:"max_age"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr     string `yaml:"bind_addr"`
	LogLevel     string `yaml:"log_level"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`

	// DrainTimeoutSeconds bounds graceful HTTP shutdown. 0 uses default (5s).
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Music     MusicConfig     `yaml:"music"`
	Store     StoreConfig     `yaml:"store"`
	Retention RetentionConfig `yaml:"retention"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	Telemetry otel.Config     `yaml:"telemetry"`

	// Fresh is set when no config.yaml existed at load time.
	Fresh bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// PresetsPath returns the path to presets.yaml within the given home directory.
func PresetsPath(homeDir string) string {
	return filepath.Join(homeDir, "presets.yaml")
}

// MusicTimeout returns the per-call timeout for the music provider.
func (c Config) MusicTimeout() time.Duration {
	return time.Duration(c.Music.TimeoutSeconds) * time.Second
}

// MusicCooldown returns how long an open breaker waits before probing again.
func (c Config) MusicCooldown() time.Duration {
	return time.Duration(c.Music.CooldownSeconds) * time.Second
}

// DrainTimeout returns the graceful shutdown budget.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// RetentionMaxAge returns the idle age after which runs are pruned; zero disables pruning.
func (c Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeMinutes) * time.Minute
}

// Fingerprint returns a stable hash of the settings that change runtime behavior.
// Secrets are reduced to presence flags.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|store=%s|facts=%d|count=%d|schema=%s|music=%t:%t:%s:%s:%d|auth=%t|origins=%v|retention=%s:%d",
		c.BindAddr, c.LogLevel, c.Store.Driver,
		c.Pipeline.FactLimit, c.Pipeline.MessageCount, c.Pipeline.GraphSchema,
		c.Music.Enabled, c.Music.APIKey != "", c.Music.Host, c.Music.Model, c.Music.TimeoutSeconds,
		c.Auth.Token != "", c.CORS.AllowedOrigins,
		c.Retention.Schedule, c.Retention.MaxAgeMinutes)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr:            "127.0.0.1:3001",
		LogLevel:            "info",
		MaxBodyBytes:        10 * 1024 * 1024,
		DrainTimeoutSeconds: 5,
		Pipeline: PipelineConfig{
			FactLimit:    5,
			MessageCount: 24,
			GraphSchema:  "context",
			DebugEvents:  40,
		},
		Music: MusicConfig{
			Enabled:          true,
			Host:             "https://api.minimax.io",
			Model:            "music-2.5",
			TimeoutSeconds:   20,
			FailureThreshold: 5,
			CooldownSeconds:  60,
		},
		Store: StoreConfig{
			Driver:    "memory",
			KeyPrefix: "lyrebird",
		},
		Retention: RetentionConfig{
			Schedule:      "@every 10m",
			MaxAgeMinutes: 120,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			BurstSize:         20,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			MaxAge:         3600,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("LYREBIRD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".lyrebird")
}

func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom loads config.yaml from homeDir, creating the directory if needed.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create lyrebird home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Fresh = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:3001"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 * 1024 * 1024
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.Pipeline.DebugEvents <= 0 {
		cfg.Pipeline.DebugEvents = 40
	}
	cfg.Pipeline.GraphSchema = strings.ToLower(strings.TrimSpace(cfg.Pipeline.GraphSchema))
	if cfg.Pipeline.GraphSchema == "" {
		cfg.Pipeline.GraphSchema = "context"
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.HomeDir, "lyrebird.db")
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = "lyrebird"
	}
	cfg.Music.Host = strings.TrimRight(strings.TrimSpace(cfg.Music.Host), "/")
	if cfg.Music.Host == "" {
		cfg.Music.Host = "https://api.minimax.io"
	}
	if cfg.Music.Model == "" {
		cfg.Music.Model = "music-2.5"
	}
	if cfg.Music.TimeoutSeconds <= 0 {
		cfg.Music.TimeoutSeconds = 20
	}
	if cfg.Music.FailureThreshold <= 0 {
		cfg.Music.FailureThreshold = 5
	}
	if cfg.Music.CooldownSeconds <= 0 {
		cfg.Music.CooldownSeconds = 60
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@every 10m"
	}
	if cfg.Retention.MaxAgeMinutes < 0 {
		cfg.Retention.MaxAgeMinutes = 0
	}
}

func validate(cfg Config) error {
	switch cfg.Store.Driver {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("store.driver %q must be one of memory, sqlite, redis", cfg.Store.Driver)
	}
	switch cfg.Pipeline.GraphSchema {
	case "context", "run":
	default:
		return fmt.Errorf("pipeline.graph_schema %q must be context or run", cfg.Pipeline.GraphSchema)
	}
	if cfg.Store.Driver == "redis" && cfg.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required for the redis driver")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("LYREBIRD_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	} else if raw := os.Getenv("MOCK_SERVER_PORT"); raw != "" {
		if _, err := strconv.Atoi(raw); err == nil {
			host, _, err := net.SplitHostPort(cfg.BindAddr)
			if err != nil {
				host = "127.0.0.1"
			}
			cfg.BindAddr = net.JoinHostPort(host, raw)
		}
	}
	if raw := os.Getenv("LYREBIRD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("LYREBIRD_AUTH_TOKEN"); raw != "" {
		cfg.Auth.Token = raw
	}
	if raw := os.Getenv("LYREBIRD_STORE_DRIVER"); raw != "" {
		cfg.Store.Driver = raw
	}
	if raw := os.Getenv("LYREBIRD_REDIS_ADDR"); raw != "" {
		cfg.Store.RedisAddr = raw
	}
	// MINMAX_API_KEY is a misspelling some deployments still carry.
	if raw := os.Getenv("MINIMAX_API_KEY"); raw != "" {
		cfg.Music.APIKey = raw
	} else if raw := os.Getenv("MINMAX_API_KEY"); raw != "" {
		cfg.Music.APIKey = raw
	}
	if raw := os.Getenv("MINIMAX_API_HOST"); raw != "" {
		cfg.Music.Host = raw
	}
	if raw := os.Getenv("MINIMAX_MUSIC_MODEL"); raw != "" {
		cfg.Music.Model = raw
	}
	if raw := os.Getenv("LYREBIRD_MUSIC_ENABLED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Music.Enabled = v
		}
	}
}
