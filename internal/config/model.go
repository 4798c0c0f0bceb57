package config

import (
	"time"

	"github.com/goliatone/go-crm-batch/cache"
	"github.com/goliatone/go-crm-batch/exporter"
	"github.com/goliatone/go-crm-batch/importer"
	"github.com/goliatone/go-crm-batch/internal/logger"
	"github.com/goliatone/go-crm-batch/jobs"
	"github.com/goliatone/go-crm-batch/repositorycache"
	"github.com/goliatone/go-crm-batch/storage"
)

// Config is the worker configuration tree. Struct tags use koanf names;
// Paths is filled at load time.
type Config struct {
	Database Database        `koanf:"database"`
	Cache    Cache           `koanf:"cache"`
	Storage  Storage         `koanf:"storage"`
	Jobs     jobs.Config     `koanf:"jobs"`
	Import   importer.Config `koanf:"import"`
	Export   exporter.Config `koanf:"export"`
	Audit    Audit           `koanf:"audit"`
	Sweep    Sweep           `koanf:"sweep"`
	Log      logger.Config   `koanf:"log"`
	Metrics  Metrics         `koanf:"metrics"`
	Paths    Paths           `koanf:"-"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Database struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	// Migrate creates missing tables on start.
	Migrate bool `koanf:"migrate"`
}

// Cache is the store configuration plus per entity TTL overrides, keyed by
// entity (customers, imports, exports, audit) then operation name.
type Cache struct {
	cache.Config `koanf:",squash"`
	TTLs         map[string]repositorycache.TTLTable `koanf:"ttls"`
}

// TTLsFor returns the overrides configured for entity.
func (c Cache) TTLsFor(entity string) repositorycache.TTLTable {
	return c.TTLs[entity]
}

// Storage drivers.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Storage struct {
	Driver string `koanf:"driver"`
	// Root and BaseURL apply to the local driver. Downloads are signed
	// with SigningKey.
	Root       string           `koanf:"root"`
	BaseURL    string           `koanf:"base_url"`
	SigningKey string           `koanf:"signing_key"`
	S3         storage.S3Config `koanf:"s3"`
}

type Audit struct {
	// Async writes activity from a background goroutine.
	Async  bool `koanf:"async"`
	Buffer int  `koanf:"buffer"`
	// Retention is how long activity is kept. Zero keeps it forever.
	Retention time.Duration `koanf:"retention"`
}

// Sweep schedules housekeeping: expired exports, archived activity and
// finished jobs.
type Sweep struct {
	Interval     time.Duration `koanf:"interval"`
	JobRetention time.Duration `koanf:"job_retention"`
}

type Metrics struct {
	// Addr serves /metrics when set.
	Addr string `koanf:"addr"`
}

// Paths are resolved at runtime.
type Paths struct {
	Root string
}

// Default returns the configuration used for keys absent from every layer.
func Default() Config {
	return Config{
		Database: Database{
			Driver:       DriverSQLite,
			DSN:          "file:crm.db?_busy_timeout=5000&_journal_mode=WAL",
			MaxOpenConns: 1,
			Migrate:      true,
		},
		Cache:   Cache{Config: cache.DefaultConfig()},
		Storage: Storage{Driver: StorageLocal, Root: "data/files", BaseURL: "http://localhost:8080/downloads"},
		Jobs:    jobs.DefaultConfig(),
		Import:  importer.Config{ProgressEvery: 25},
		Export:  exporter.DefaultConfig(),
		Audit:   Audit{Async: true, Buffer: 256, Retention: 365 * 24 * time.Hour},
		Sweep:   Sweep{Interval: time.Hour, JobRetention: 7 * 24 * time.Hour},
		Log:     logger.DefaultConfig(),
	}
}
