// Command crm-worker runs the background side of the CRM: it drains the
// import and export job queue, flushes audit events and sweeps expired
// artifacts until it receives SIGINT or SIGTERM.
//
// Start-up order:
//
//  1. Load configuration (.env, conf/crm.yaml, CRM_ environment).
//  2. Start the rotating logger.
//  3. Open the database and create missing tables.
//  4. Build the container.
//  5. Serve /metrics and signed downloads when metrics.addr is set.
//  6. Run the job runner and the sweep loop.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-crm-batch/internal/config"
	"github.com/goliatone/go-crm-batch/internal/logger"
	"github.com/goliatone/go-crm-batch/pkg/di"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg.Log.Console = cfg.Log.Console || runningInTTY()
	logOut, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer closeLog.Close()
	zap.ReplaceGlobals(logOut.Desugar())

	if err := run(cfg, logOut); err != nil {
		logOut.Errorw("worker stopped", "err", err)
		_ = closeLog.Close()
		os.Exit(1)
	}
	logOut.Infow("worker stopped")
}

func run(cfg *config.Config, logOut *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := di.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logOut.Infow("database online", "driver", cfg.Database.Driver)

	if cfg.Database.Migrate {
		if err := di.Migrate(ctx, db); err != nil {
			return err
		}
	}

	c, err := di.NewContainer(ctx, *cfg, db, di.WithLogger(logOut))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), di.CloseTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			logOut.Errorw("audit flush failed", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux(cfg, c, logOut),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logOut.Infow("http listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		logOut.Infow("runner started", "workers", cfg.Jobs.Workers)
		return c.Runner().Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()
		for {
			if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
				logOut.Errorw("sweep failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func mux(cfg *config.Config, c *di.Container, logOut *zap.SugaredLogger) http.Handler {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())

	if h := c.Downloads(); h != nil {
		u, err := url.Parse(cfg.Storage.BaseURL)
		if err != nil || u.Path == "" {
			logOut.Warnw("downloads not served, base_url has no path", "base_url", cfg.Storage.BaseURL)
			return m
		}
		m.Handle(u.Path, h)
	}
	return m
}
