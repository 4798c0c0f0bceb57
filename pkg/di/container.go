// Package di wires the worker object graph from a config.Config: database,
// cache store and coordinator, cached repositories, file storage, audit
// dispatch, the job queue and runner, both pipelines and the services
// built on top of them.
package di

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/audit"
	"github.com/goliatone/go-crm-batch/cache"
	"github.com/goliatone/go-crm-batch/exporter"
	"github.com/goliatone/go-crm-batch/importer"
	"github.com/goliatone/go-crm-batch/internal/config"
	"github.com/goliatone/go-crm-batch/jobs"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/repositorycache"
	"github.com/goliatone/go-crm-batch/service"
	"github.com/goliatone/go-crm-batch/storage"
)

// Container owns every long lived component. Build it with NewContainer
// and release it with Close.
type Container struct {
	cfg    config.Config
	db     *bun.DB
	clock  clock.Clock
	logger *zap.SugaredLogger

	store cache.Store
	coord *cache.Coordinator

	customerRepo repository.CustomerRepository
	importRepo   repository.ImportRepository
	exportRepo   repository.ExportRepository
	auditRepo    repository.AuditRepository

	files  storage.Storage
	signer storage.Signer

	dispatcher *audit.Dispatcher

	queue  *jobs.Queue
	runner *jobs.Runner

	cleanup *exporter.Cleanup

	customers *service.Customers
	imports   *service.Imports
	exports   *service.Exports
}

// Option overrides a component NewContainer would otherwise build.
type Option func(*Container)

func WithClock(c clock.Clock) Option {
	return func(ct *Container) { ct.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(ct *Container) { ct.logger = l }
}

// WithStorage replaces the configured storage driver.
func WithStorage(files storage.Storage, signer storage.Signer) Option {
	return func(ct *Container) { ct.files, ct.signer = files, signer }
}

// WithCacheStore replaces the configured cache store.
func WithCacheStore(s cache.Store) Option {
	return func(ct *Container) { ct.store = s }
}

// OpenDB opens the configured database with the matching bun dialect.
func OpenDB(cfg config.Database) (*bun.DB, error) {
	var (
		driver  string
		dialect func(*sql.DB) *bun.DB
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		driver = "postgres"
		dialect = func(db *sql.DB) *bun.DB { return bun.NewDB(db, pgdialect.New()) }
	case config.DriverSQLite:
		driver = "sqlite3"
		dialect = func(db *sql.DB) *bun.DB { return bun.NewDB(db, sqlitedialect.New()) }
	default:
		return nil, goerrors.New("unsupported database driver "+cfg.Driver, goerrors.CategoryValidation)
	}

	sqldb, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "open database")
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return dialect(sqldb), nil
}

// Migrate creates the repository and job tables.
func Migrate(ctx context.Context, db bun.IDB) error {
	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}
	return jobs.Migrate(ctx, db)
}

// NewContainer builds the graph over db. The caller keeps ownership of db.
func NewContainer(ctx context.Context, cfg config.Config, db *bun.DB, opts ...Option) (*Container, error) {
	c := &Container{
		cfg:    cfg,
		db:     db,
		clock:  clock.WallClock,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}

	steps := []func(context.Context) error{
		c.initCache,
		c.initRepositories,
		c.initStorage,
		c.initAudit,
		c.initJobs,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Container) initCache(context.Context) error {
	if c.store == nil {
		store, err := cache.NewStore(c.cfg.Cache.Config)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "cache store")
		}
		c.store = store
	}
	ns := c.cfg.Cache.Namespace
	if ns == "" {
		ns = cache.DefaultNamespace
	}
	c.coord = cache.NewCoordinator(c.store,
		cache.WithNamespace(ns),
		cache.WithLogger(c.logger.Named("cache")),
	)
	return nil
}

func (c *Container) initRepositories(context.Context) error {
	repoOpts := []repository.Option{repository.WithClock(c.clock), repository.WithLogger(c.logger.Named("repository"))}
	cacheOpts := []repositorycache.Option{repositorycache.WithLogger(c.logger.Named("repositorycache"))}
	ttls := c.cfg.Cache.TTLsFor

	var err error
	if c.customerRepo, err = repositorycache.NewCustomers(
		repository.NewCustomers(c.db, repoOpts...), c.coord, ttls("customers"), cacheOpts...); err != nil {
		return err
	}
	if c.importRepo, err = repositorycache.NewImports(
		repository.NewImports(c.db, repoOpts...), c.coord, ttls("imports"), cacheOpts...); err != nil {
		return err
	}
	if c.exportRepo, err = repositorycache.NewExports(
		repository.NewExports(c.db, repoOpts...), c.coord, ttls("exports"), cacheOpts...); err != nil {
		return err
	}
	if c.auditRepo, err = repositorycache.NewAudit(
		repository.NewAudit(c.db, repoOpts...), c.coord, ttls("audit"), cacheOpts...); err != nil {
		return err
	}
	return nil
}

func (c *Container) initStorage(ctx context.Context) error {
	if c.files != nil {
		return nil
	}
	switch c.cfg.Storage.Driver {
	case config.StorageS3:
		s3, err := storage.NewS3FromConfig(ctx, c.cfg.Storage.S3)
		if err != nil {
			return err
		}
		c.files, c.signer = s3, s3
	default:
		local, err := storage.NewLocal(c.cfg.Storage.Root)
		if err != nil {
			return err
		}
		signer, err := storage.NewTokenSigner(c.cfg.Storage.BaseURL, []byte(c.cfg.Storage.SigningKey), c.clock)
		if err != nil {
			return err
		}
		c.files, c.signer = local, signer
	}
	return nil
}

func (c *Container) initAudit(context.Context) error {
	recorder := audit.NewRecorder(c.auditRepo, c.clock, c.logger.Named("audit"))
	var opts []audit.DispatcherOption
	if c.cfg.Audit.Async {
		opts = append(opts, audit.WithAsync(c.cfg.Audit.Buffer))
	}
	c.dispatcher = audit.NewDispatcher(recorder, opts...)
	return nil
}

func (c *Container) initJobs(context.Context) error {
	c.queue = jobs.NewQueue(c.db,
		jobs.WithQueueClock(c.clock),
		jobs.WithQueueLogger(c.logger.Named("queue")),
		jobs.WithLease(c.cfg.Jobs.Lease),
		jobs.WithDefaultMaxAttempts(c.cfg.Jobs.MaxAttempts),
	)
	c.runner = jobs.NewRunner(c.queue, c.cfg.Jobs,
		jobs.WithClock(c.clock),
		jobs.WithLogger(c.logger.Named("runner")),
	)

	svcOpts := []service.Option{service.WithClock(c.clock), service.WithLogger(c.logger.Named("service"))}
	c.customers = service.NewCustomers(c.customerRepo, c.dispatcher, svcOpts...)

	impLog := c.logger.Named("importer")
	impPipeline := importer.NewPipeline(c.files, c.importRepo, c.customers, c.cfg.Import,
		importer.WithClock(c.clock), importer.WithLogger(impLog))
	c.runner.Register(importer.JobKind, importer.NewJob(c.importRepo, impPipeline, c.dispatcher,
		importer.WithClock(c.clock), importer.WithLogger(impLog)))

	expLog := c.logger.Named("exporter")
	expOpts := []exporter.Option{exporter.WithClock(c.clock), exporter.WithLogger(expLog)}
	expPipeline := exporter.NewPipeline(c.customerRepo, c.exportRepo, c.auditRepo, c.files, c.signer, c.cfg.Export, expOpts...)
	c.runner.Register(exporter.JobKind, exporter.NewJob(c.exportRepo, expPipeline, c.files, c.dispatcher, expOpts...))
	c.cleanup = exporter.NewCleanup(c.exportRepo, c.files, expOpts...)

	c.imports = service.NewImports(c.importRepo, c.files, c.queue, c.dispatcher, svcOpts...)
	c.exports = service.NewExports(c.exportRepo, c.files, c.signer, c.queue, c.cleanup, c.dispatcher, svcOpts...)
	return nil
}

func (c *Container) Config() config.Config                { return c.cfg }
func (c *Container) Coordinator() *cache.Coordinator      { return c.coord }
func (c *Container) Storage() storage.Storage             { return c.files }
func (c *Container) Queue() *jobs.Queue                   { return c.queue }
func (c *Container) Runner() *jobs.Runner                 { return c.runner }
func (c *Container) Customers() *service.Customers        { return c.customers }
func (c *Container) Imports() *service.Imports            { return c.imports }
func (c *Container) Exports() *service.Exports            { return c.exports }
func (c *Container) Activity() repository.AuditRepository { return c.auditRepo }

// Downloads serves signed links for the local driver. It is nil when the
// storage driver signs its own URLs.
func (c *Container) Downloads() http.Handler {
	ts, ok := c.signer.(*storage.TokenSigner)
	if !ok {
		return nil
	}
	return storage.DownloadHandler(c.files, ts, c.logger.Named("downloads"))
}

// SweepResult counts what one Sweep removed.
type SweepResult struct {
	ExpiredExports   int
	ArchivedActivity int
	PurgedJobs       int
}

// Sweep runs housekeeping once: expired export artifacts, activity past
// retention and finished jobs past retention. Every step runs even when an
// earlier one fails; the first error is returned.
func (c *Container) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res      SweepResult
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	now := c.clock.Now()

	n, err := c.exports.CleanupExpired(ctx)
	res.ExpiredExports = n
	keep(err)

	if c.cfg.Audit.Retention > 0 {
		n, err = c.auditRepo.ArchiveBefore(ctx, now.Add(-c.cfg.Audit.Retention))
		res.ArchivedActivity = n
		keep(err)
	}

	n, err = c.queue.Purge(ctx, now.Add(-c.cfg.Sweep.JobRetention))
	res.PurgedJobs = n
	keep(err)

	c.logger.Infow("sweep finished",
		"expired_exports", res.ExpiredExports,
		"archived_activity", res.ArchivedActivity,
		"purged_jobs", res.PurgedJobs,
		"err", firstErr,
	)
	return res, firstErr
}

// Close flushes pending audit events. It waits at most until ctx is done.
func (c *Container) Close(ctx context.Context) error {
	return c.dispatcher.Close(ctx)
}

// CloseTimeout is how long the worker waits for audit events on shutdown.
const CloseTimeout = 10 * time.Second
