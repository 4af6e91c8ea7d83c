package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"kasirinaja/terminal/internal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"kasirinaja.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RemoteBaseURL string        `envconfig:"REMOTE_BASE_URL" default:"http://127.0.0.1:8000/api"`
	RemoteTimeout time.Duration `envconfig:"REMOTE_TIMEOUT" default:"15s"`

	BusinessLocationID string `envconfig:"BUSINESS_LOCATION_ID"`
	StoreLocationID    string `envconfig:"STORE_LOCATION_ID"`
	DeviceID           string `envconfig:"DEVICE_ID"`
	DeviceKey          string `envconfig:"DEVICE_KEY"`
	DeviceName         string `envconfig:"DEVICE_NAME"`
	ReceiptPrefix      string `envconfig:"RECEIPT_PREFIX" default:"RCP"`
	BillPrefix         string `envconfig:"BILL_PREFIX" default:"BILL"`

	StorageTimeout      time.Duration `envconfig:"STORAGE_TIMEOUT" default:"5s"`
	RegistrationTimeout time.Duration `envconfig:"REGISTRATION_TIMEOUT" default:"2s"`
	SyncInterval        time.Duration `envconfig:"SYNC_INTERVAL" default:"1m"`
	SyncDelay           time.Duration `envconfig:"SYNC_DELAY" default:"10s"`
	InflightTTL         time.Duration `envconfig:"INFLIGHT_TTL" default:"1m"`
	SweepCron           string        `envconfig:"SWEEP_CRON"`
	PullCatalogOnStart  bool          `envconfig:"PULL_CATALOG_ON_START" default:"true"`
}

// Load reads a .env file when one exists, then the environment. Variables
// already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	cfg.DeviceID = strings.TrimSpace(cfg.DeviceID)
	cfg.DeviceKey = strings.TrimSpace(cfg.DeviceKey)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings the process cannot start without. Missing
// device credentials are allowed: saves are refused until they are set.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	for name, d := range map[string]time.Duration{
		"REMOTE_TIMEOUT":       c.RemoteTimeout,
		"STORAGE_TIMEOUT":      c.StorageTimeout,
		"REGISTRATION_TIMEOUT": c.RegistrationTimeout,
		"SYNC_INTERVAL":        c.SyncInterval,
		"INFLIGHT_TTL":         c.InflightTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	// The marker has to outlive one submission plus the load before it and
	// the write after it, or a second process can send the same record.
	if held := c.RemoteTimeout + 2*c.StorageTimeout; c.InflightTTL > 0 && c.InflightTTL <= held {
		errs = append(errs, fmt.Errorf("INFLIGHT_TTL (%s) must exceed REMOTE_TIMEOUT plus twice STORAGE_TIMEOUT (%s)", c.InflightTTL, held))
	}
	return errors.Join(errs...)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Device() domain.DeviceContext {
	return domain.DeviceContext{
		DeviceID:   c.DeviceID,
		DeviceKey:  c.DeviceKey,
		DeviceName: c.DeviceName,
	}
}

// RedisEnabled reports whether the queue and shared in-flight markers are
// available.
func (c Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}
