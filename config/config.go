package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"repair-pricing-backend/internal/pricing"
)

// Config represents the overall application configuration.
type Config struct {
	LogLevel   string             `yaml:"log_level"`
	Server     ServerConfig       `yaml:"server"`
	Database   DatabaseConfig     `yaml:"database"`
	Push       PushConfig         `yaml:"push"`
	WorkerPool WorkerPoolConfig   `yaml:"worker_pool"`
	Realtime   RealtimeConfig     `yaml:"realtime"`
	Factors    FactorsConfig      `yaml:"factors"`
	Bookings   BookingsConfig     `yaml:"bookings"`
	Pricing    PricingConfig      `yaml:"pricing"`
	Catalog    []RepairTypeConfig `yaml:"catalog"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestIPHeader string        `yaml:"request_ip_header"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
	AdminJWTSecret  string        `yaml:"admin_jwt_secret"`
}

// DatabaseConfig holds the database connection configuration.
// A DSN starting with "sqlite:" opens a SQLite database instead of Postgres.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// RealtimeConfig configures the push channel connection.
type RealtimeConfig struct {
	URL                     string        `yaml:"url"`
	Token                   string        `yaml:"token"`
	BaseDelayMillis         int           `yaml:"base_delay_ms"`
	BaseDelay               time.Duration `yaml:"-"`
	MaxReconnectAttempts    int           `yaml:"max_reconnect_attempts"`
	HeartbeatSeconds        int           `yaml:"heartbeat_seconds"`
	Heartbeat               time.Duration `yaml:"-"`
	HandshakeTimeoutSeconds int           `yaml:"handshake_timeout_seconds"`
	HandshakeTimeout        time.Duration `yaml:"-"`
}

// FactorsConfig configures the market factors source.
type FactorsConfig struct {
	URL                    string        `yaml:"url"`
	Token                  string        `yaml:"token"`
	HTTPProxy              string        `yaml:"http_proxy"`
	RefreshIntervalSeconds int           `yaml:"refresh_interval_seconds"`
	RefreshInterval        time.Duration `yaml:"-"`
	TimeoutSeconds         int           `yaml:"timeout_seconds"`
	Timeout                time.Duration `yaml:"-"`
}

// BookingsConfig configures the booking progress service.
type BookingsConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	HTTPProxy      string        `yaml:"http_proxy"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// PricingConfig holds the rule set and the global adjustment window.
type PricingConfig struct {
	MaxIncreasePct  *float64       `yaml:"max_increase_pct"`
	MaxDecreasePct  *float64       `yaml:"max_decrease_pct"`
	QuoteTTLSeconds int            `yaml:"quote_ttl_seconds"`
	QuoteTTL        time.Duration  `yaml:"-"`
	SimulatorSeed   int64          `yaml:"simulator_seed"`
	Rules           []pricing.Rule `yaml:"rules"`
}

// Limits returns the engine limits with defaults applied.
func (p PricingConfig) Limits() pricing.Limits {
	limits := pricing.DefaultLimits()
	if p.MaxIncreasePct != nil {
		limits.MaxIncreasePct = *p.MaxIncreasePct
	}
	if p.MaxDecreasePct != nil {
		limits.MaxDecreasePct = *p.MaxDecreasePct
	}
	return limits
}

// RepairTypeConfig seeds one catalog entry.
type RepairTypeConfig struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Category        string  `yaml:"category"`
	BasePrice       float64 `yaml:"base_price"`
	ExpressPremium  float64 `yaml:"express_premium"`
	DurationMinutes int     `yaml:"duration_minutes"`
}

// Load reads the configuration from the given path, applies environment
// overrides for secrets and fills in defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"REALTIME_TOKEN":    &cfg.Realtime.Token,
		"FACTORS_TOKEN":     &cfg.Factors.Token,
		"BOOKINGS_TOKEN":    &cfg.Bookings.Token,
		"VAPID_PRIVATE_KEY": &cfg.Push.PrivateKey,
		"DATABASE_DSN":      &cfg.Database.DSN,
		"ADMIN_JWT_SECRET":  &cfg.Server.AdminJWTSecret,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "sqlite:repaird.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Realtime.BaseDelayMillis <= 0 {
		cfg.Realtime.BaseDelayMillis = 1000
	}
	cfg.Realtime.BaseDelay = time.Duration(cfg.Realtime.BaseDelayMillis) * time.Millisecond
	if cfg.Realtime.MaxReconnectAttempts <= 0 {
		cfg.Realtime.MaxReconnectAttempts = 5
	}
	if cfg.Realtime.HeartbeatSeconds <= 0 {
		cfg.Realtime.HeartbeatSeconds = 30
	}
	cfg.Realtime.Heartbeat = time.Duration(cfg.Realtime.HeartbeatSeconds) * time.Second
	if cfg.Realtime.HandshakeTimeoutSeconds <= 0 {
		cfg.Realtime.HandshakeTimeoutSeconds = 10
	}
	cfg.Realtime.HandshakeTimeout = time.Duration(cfg.Realtime.HandshakeTimeoutSeconds) * time.Second

	if cfg.Factors.RefreshIntervalSeconds <= 0 {
		cfg.Factors.RefreshIntervalSeconds = 30
	}
	cfg.Factors.RefreshInterval = time.Duration(cfg.Factors.RefreshIntervalSeconds) * time.Second
	if cfg.Factors.TimeoutSeconds <= 0 {
		cfg.Factors.TimeoutSeconds = 10
	}
	cfg.Factors.Timeout = time.Duration(cfg.Factors.TimeoutSeconds) * time.Second

	if cfg.Bookings.TimeoutSeconds <= 0 {
		cfg.Bookings.TimeoutSeconds = 10
	}
	cfg.Bookings.Timeout = time.Duration(cfg.Bookings.TimeoutSeconds) * time.Second

	if cfg.Pricing.QuoteTTLSeconds <= 0 {
		cfg.Pricing.QuoteTTLSeconds = 900
	}
	cfg.Pricing.QuoteTTL = time.Duration(cfg.Pricing.QuoteTTLSeconds) * time.Second

	limits := cfg.Pricing.Limits()
	if limits.MaxIncreasePct < 0 || limits.MaxDecreasePct < 0 || limits.MaxDecreasePct > 100 {
		return fmt.Errorf("invalid pricing window: max_increase_pct=%v max_decrease_pct=%v", limits.MaxIncreasePct, limits.MaxDecreasePct)
	}

	if len(cfg.Pricing.Rules) == 0 {
		log.Println("No pricing rules configured; using the built-in rule set.")
		cfg.Pricing.Rules = pricing.DefaultRules()
	} else {
		rules, err := pricing.LoadRules(cfg.Pricing.Rules)
		if err != nil {
			log.Warnf("Some pricing rules were rejected: %v", err)
		}
		cfg.Pricing.Rules = rules
	}

	return validateCatalog(cfg.Catalog)
}

func validateCatalog(entries []RepairTypeConfig) error {
	var errs []error
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		rt := &entries[i]
		switch {
		case rt.ID == "":
			errs = append(errs, fmt.Errorf("catalog entry %d: id is required", i))
			continue
		case seen[rt.ID]:
			errs = append(errs, fmt.Errorf("catalog entry %q: duplicate id", rt.ID))
		case rt.BasePrice < 0:
			errs = append(errs, fmt.Errorf("catalog entry %q: base_price must not be negative", rt.ID))
		}
		seen[rt.ID] = true
		if rt.ExpressPremium <= 0 {
			rt.ExpressPremium = 1
		}
		if rt.Name == "" {
			rt.Name = rt.ID
		}
	}
	return errors.Join(errs...)
}
