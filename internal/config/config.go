package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the daemon configuration, loaded from a TOML file with
// environment overrides applied on top.
type Config struct {
	HTTPAddr     string `toml:"http_addr" envconfig:"OMNIBOX_HTTP_ADDR"`
	DBPath       string `toml:"db_path" envconfig:"OMNIBOX_DB_PATH"`
	LogPath      string `toml:"log_path" envconfig:"OMNIBOX_LOG_PATH"`
	VerifyToken  string `toml:"verify_token" envconfig:"OMNIBOX_VERIFY_TOKEN"`
	VerifySecret string `toml:"verify_secret" envconfig:"OMNIBOX_VERIFY_SECRET"`
	ShareBaseURL string `toml:"share_base_url" envconfig:"OMNIBOX_SHARE_BASE_URL"`

	LockTimeoutMS int `toml:"lock_timeout_ms" envconfig:"OMNIBOX_LOCK_TIMEOUT_MS"`

	Brokers      Brokers      `toml:"brokers"`
	Orchestrator Orchestrator `toml:"orchestrator"`

	SweepIntervalMS int `toml:"sweep_interval_ms" envconfig:"OMNIBOX_SWEEP_INTERVAL_MS"`
}

// Brokers configures the broker backends.
type Brokers struct {
	CloudAPIBaseURL  string `toml:"cloudapi_base_url" envconfig:"OMNIBOX_CLOUDAPI_BASE_URL"`
	BaileysBaseURL   string `toml:"baileys_base_url" envconfig:"OMNIBOX_BAILEYS_BASE_URL"`
	MeowEnabled      bool   `toml:"meow_enabled" envconfig:"OMNIBOX_MEOW_ENABLED"`
	MeowConnectionID string `toml:"meow_connection_id" envconfig:"OMNIBOX_MEOW_CONNECTION_ID"`
	MeowDBPath       string `toml:"meow_db_path" envconfig:"OMNIBOX_MEOW_DB_PATH"`
}

// Orchestrator tunes outbound retry, fallback and health checking.
type Orchestrator struct {
	EnableFallback  bool     `toml:"enable_fallback" envconfig:"OMNIBOX_ENABLE_FALLBACK"`
	FallbackOrder   []string `toml:"fallback_order" envconfig:"OMNIBOX_FALLBACK_ORDER"`
	MaxRetries      int      `toml:"max_retries" envconfig:"OMNIBOX_MAX_RETRIES"`
	RetryDelayMS    int      `toml:"retry_delay_ms" envconfig:"OMNIBOX_RETRY_DELAY_MS"`
	HealthTimeoutMS int      `toml:"health_timeout_ms" envconfig:"OMNIBOX_HEALTH_TIMEOUT_MS"`
	CacheEnabled    bool     `toml:"cache_enabled" envconfig:"OMNIBOX_HEALTH_CACHE_ENABLED"`
	CacheTTLMS      int      `toml:"cache_ttl_ms" envconfig:"OMNIBOX_HEALTH_CACHE_TTL_MS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		DBPath:          "omnibox.db",
		LogPath:         "omnibox.log",
		ShareBaseURL:    "http://localhost:8080",
		LockTimeoutMS:   5000,
		SweepIntervalMS: 60000,
		Brokers: Brokers{
			CloudAPIBaseURL:  "https://graph.facebook.com/v19.0",
			BaileysBaseURL:   "http://localhost:8081",
			MeowConnectionID: "meow-local",
			MeowDBPath:       "meow.db",
		},
		Orchestrator: Orchestrator{
			EnableFallback:  false,
			MaxRetries:      3,
			RetryDelayMS:    500,
			HealthTimeoutMS: 3000,
			CacheEnabled:    true,
			CacheTTLMS:      30000,
		},
	}
}

// Load reads config from path (optional; missing file keeps defaults) and
// then applies environment overrides. A .env file is honored if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("decode config: %w", err)
			}
		}
	}

	_ = godotenv.Load(".env")
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LockTimeout returns the ingestion lock timeout.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// SweepInterval returns the period for expiry sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// RetryDelay returns the delay between orchestrator send attempts.
func (o Orchestrator) RetryDelay() time.Duration {
	return time.Duration(o.RetryDelayMS) * time.Millisecond
}

// HealthTimeout returns the per-adapter health check timeout.
func (o Orchestrator) HealthTimeout() time.Duration {
	return time.Duration(o.HealthTimeoutMS) * time.Millisecond
}

// CacheTTL returns how long health results stay cached.
func (o Orchestrator) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLMS) * time.Millisecond
}
