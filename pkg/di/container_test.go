package di

import (
	"context"
	"testing"

	"github.com/juju/clock/testclock"

	"github.com/goliatone/go-crm-batch/internal/config"
	"github.com/goliatone/go-crm-batch/pkg/testsupport"
	"github.com/goliatone/go-crm-batch/repositorycache"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.BaseURL = "https://crm.test/downloads"
	cfg.Storage.SigningKey = "0123456789abcdef-signing"
	return cfg
}

func TestOpenDB(t *testing.T) {
	db, err := OpenDB(config.Database{Driver: config.DriverSQLite, DSN: "file::memory:?cache=shared", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second Migrate should be a no-op: %v", err)
	}

	if _, err := OpenDB(config.Database{Driver: "mysql", DSN: "x"}); err == nil {
		t.Error("expected unsupported driver to fail")
	}
}

func TestNewContainer_WiresEverything(t *testing.T) {
	db := testsupport.NewDB(t, Migrate)
	c, err := NewContainer(context.Background(), testConfig(t), db, WithClock(testclock.NewClock(epoch)))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	if c.Coordinator() == nil || c.Storage() == nil || c.Queue() == nil || c.Runner() == nil {
		t.Fatal("expected infrastructure to be wired")
	}
	if c.Customers() == nil || c.Imports() == nil || c.Exports() == nil || c.Activity() == nil {
		t.Fatal("expected services to be wired")
	}
	if c.Downloads() == nil {
		t.Error("expected a download handler for local storage")
	}
	if !c.dispatcher.Async() {
		t.Error("expected async audit by default")
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	db := testsupport.NewDB(t, Migrate)

	cases := map[string]func(*config.Config){
		"cache capacity": func(c *config.Config) { c.Cache.Capacity = 0 },
		"short key":      func(c *config.Config) { c.Storage.SigningKey = "short" },
		"ttl override": func(c *config.Config) {
			c.Cache.TTLs = map[string]repositorycache.TTLTable{"imports": {"FindByID": 0}}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(&cfg)
			if _, err := NewContainer(context.Background(), cfg, db); err == nil {
				t.Fatal("expected NewContainer to fail")
			}
		})
	}
}
