package config

import (
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/outreach-cli/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Rules     RulesConfig     `yaml:"rules" mapstructure:"rules"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// GeocodeConfig configures the Nominatim client and its cache.
type GeocodeConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CacheTTLHours    int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// CacheTTL returns the lookup cache lifetime.
func (g GeocodeConfig) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLHours) * time.Hour
}

// PlacesConfig configures external research through the places text search.
// An empty Key disables external research.
type PlacesConfig struct {
	Key                 string   `yaml:"key" mapstructure:"key"`
	BaseURL             string   `yaml:"base_url" mapstructure:"base_url"`
	MaxResults          int      `yaml:"max_results" mapstructure:"max_results"`
	Keywords            []string `yaml:"keywords" mapstructure:"keywords"`
	BreakerThreshold    int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int      `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// BreakerCooldown returns how long an open breaker waits before probing.
func (p PlacesConfig) BreakerCooldown() time.Duration {
	return time.Duration(p.BreakerCooldownSecs) * time.Second
}

// DiscoveryConfig tunes discovery runs.
type DiscoveryConfig struct {
	DormantMonths    int `yaml:"dormant_months" mapstructure:"dormant_months"`
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RuleCacheTTLMins int `yaml:"rule_cache_ttl_mins" mapstructure:"rule_cache_ttl_mins"`
}

// Timeout returns the per-run deadline, or zero for none.
func (d DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSecs) * time.Second
}

// RuleCacheTTL returns how long loaded recommendation rules are reused.
func (d DiscoveryConfig) RuleCacheTTL() time.Duration {
	return time.Duration(d.RuleCacheTTLMins) * time.Minute
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RulesConfig configures rule seeding.
type RulesConfig struct {
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml, and the environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("places.key", "")
	v.SetDefault("rules.seed_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "outreach-cli/1.0")
	v.SetDefault("geocode.rate_per_sec", 1.0)
	v.SetDefault("geocode.cache_ttl_hours", 24)
	v.SetDefault("geocode.max_retries", 3)
	v.SetDefault("geocode.initial_backoff_ms", 1000)
	v.SetDefault("places.base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("places.max_results", 20)
	v.SetDefault("places.breaker_threshold", 5)
	v.SetDefault("places.breaker_cooldown_secs", 300)
	v.SetDefault("discovery.dormant_months", 6)
	v.SetDefault("discovery.timeout_secs", 300)
	v.SetDefault("discovery.rule_cache_ttl_mins", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var modes = []string{"discover", "rules", "geocode", "migrate", "serve"}

// Validate checks the settings mode needs. Every problem is reported in one
// error.
func (c *Config) Validate(mode string) error {
	if !slices.Contains(modes, mode) {
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string
	needsStore := mode != "geocode"
	if needsStore {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	if mode == "geocode" || mode == "discover" || mode == "serve" {
		if c.Geocode.UserAgent == "" {
			errs = append(errs, "geocode.user_agent is required")
		}
		if c.Geocode.RatePerSec <= 0 {
			errs = append(errs, "geocode.rate_per_sec must be > 0")
		}
	}

	if mode == "discover" || mode == "serve" {
		if c.Discovery.DormantMonths < 1 {
			errs = append(errs, "discovery.dormant_months must be >= 1")
		}
		if c.Discovery.TimeoutSecs < 0 {
			errs = append(errs, "discovery.timeout_secs must be >= 0")
		}
		if c.Places.Key != "" && (c.Places.MaxResults < 1 || c.Places.MaxResults > 60) {
			errs = append(errs, "places.max_results must be between 1 and 60")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
