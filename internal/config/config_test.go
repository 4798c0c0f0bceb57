package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-crm-batch/repositorycache"
)

const signingKey = "0123456789abcdef-signing"

func writeConf(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, "conf")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFrom_DefaultsNeedSigningKey(t *testing.T) {
	_, err := LoadFrom(t.TempDir())
	if err == nil {
		t.Fatal("expected missing signing key to fail validation")
	}
	if !goerrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoadFrom_Layers(t *testing.T) {
	root := t.TempDir()
	writeConf(t, root, FileName, `
database:
  driver: postgres
  dsn: postgres://crm@localhost/crm?sslmode=disable
cache:
  capacity: 500
  ttls:
    customers:
      FindByID: 30m
storage:
  signing_key: `+signingKey+`
  base_url: https://crm.test/downloads
jobs:
  workers: 4
export:
  download_ttl: 12h
`)
	t.Setenv("CRM_JOBS__WORKERS", "8")
	t.Setenv("CRM_CACHE__TTLS__CUSTOMERS__SEARCH", "90s")

	cfg, err := LoadFrom(root)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN == "" {
		t.Errorf("unexpected database %+v", cfg.Database)
	}
	if cfg.Cache.Capacity != 500 || cfg.Cache.NumShards != 256 {
		t.Errorf("expected yaml capacity over default shards, got %+v", cfg.Cache.Config)
	}
	if cfg.Jobs.Workers != 8 {
		t.Errorf("expected env to win, got %d workers", cfg.Jobs.Workers)
	}
	if cfg.Jobs.MaxAttempts != 3 {
		t.Errorf("expected default attempts, got %d", cfg.Jobs.MaxAttempts)
	}
	if cfg.Export.DownloadTTL != 12*time.Hour || cfg.Export.BatchSize != 200 {
		t.Errorf("unexpected export config %+v", cfg.Export)
	}

	ttls := cfg.Cache.TTLsFor("customers")
	if ttls["FindByID"] != 30*time.Minute || ttls["search"] != 90*time.Second {
		t.Errorf("unexpected ttl overrides %v", ttls)
	}

	if cfg.Storage.Root != filepath.Join(root, "data/files") {
		t.Errorf("expected storage root resolved below %s, got %s", root, cfg.Storage.Root)
	}
	if cfg.Log.Dir != filepath.Join(root, "logs") {
		t.Errorf("unexpected log dir %s", cfg.Log.Dir)
	}
	if Get() != cfg {
		t.Error("expected loaded config to be current")
	}
}

func TestLoadFrom_DotEnv(t *testing.T) {
	root := t.TempDir()
	writeConf(t, root, ".env", "CRM_STORAGE__SIGNING_KEY="+signingKey+"\nCRM_METRICS__ADDR=:9108\n")
	t.Cleanup(func() {
		os.Unsetenv("CRM_STORAGE__SIGNING_KEY")
		os.Unsetenv("CRM_METRICS__ADDR")
	})

	cfg, err := LoadFrom(root)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Storage.SigningKey != signingKey || cfg.Metrics.Addr != ":9108" {
		t.Errorf("expected .env values, got %+v %+v", cfg.Storage, cfg.Metrics)
	}
}

func TestRootDir(t *testing.T) {
	t.Setenv(RootEnv, "/srv/crm")
	if got := rootDir(); got != "/srv/crm" {
		t.Errorf("expected env root, got %s", got)
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"CRM_JOBS__MAX_ATTEMPTS":  "jobs.max_attempts",
		"CRM_STORAGE__S3__BUCKET": "storage.s3.bucket",
		"CRM_CACHE__REDIS__ADDR":  "cache.redis.addr",
		RootEnv:                   "",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Storage.SigningKey = signingKey
		return c
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults with key", func(*Config) {}, true},
		{"unknown database driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, false},
		{"short signing key", func(c *Config) { c.Storage.SigningKey = "short" }, false},
		{"s3 needs bucket", func(c *Config) { c.Storage.Driver = StorageS3 }, false},
		{"s3 with bucket", func(c *Config) {
			c.Storage.Driver = StorageS3
			c.Storage.SigningKey = ""
			c.Storage.S3.Bucket = "crm-files"
		}, true},
		{"redis needs addr", func(c *Config) { c.Cache.Driver = "redis" }, false},
		{"ttl above max", func(c *Config) {
			c.Cache.TTLs = map[string]repositorycache.TTLTable{"customers": {"FindByID": 30 * 24 * time.Hour}}
		}, false},
		{"no workers", func(c *Config) { c.Jobs.Workers = 0 }, false},
		{"lease equal to timeout", func(c *Config) { c.Jobs.Lease = c.Jobs.Timeout }, false},
		{"lease shorter than timeout", func(c *Config) { c.Jobs.Lease = time.Minute }, false},
		{"zero progress interval", func(c *Config) { c.Import.ProgressEvery = 0 }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"async audit without buffer", func(c *Config) { c.Audit.Buffer = 0 }, false},
		{"sync audit without buffer", func(c *Config) { c.Audit.Async, c.Audit.Buffer = false, 0 }, true},
		{"bad metrics addr", func(c *Config) { c.Metrics.Addr = "not an addr" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
