// Package exporter streams customer sets into downloadable artifacts and
// sweeps them away once their download window closes.
package exporter

import (
	"context"
	"errors"
	"io"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/internal/metrics"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/storage"
)

// ActivityCounter supplies the per customer activity column.
type ActivityCounter interface {
	CountForSubject(ctx context.Context, userID int64, subjectType string, subjectID int64) (int, error)
}

// Config tunes exports.
type Config struct {
	DownloadTTL time.Duration `koanf:"download_ttl"`
	BatchSize   int           `koanf:"batch_size"`
}

func DefaultConfig() Config {
	return Config{DownloadTTL: 24 * time.Hour, BatchSize: 200}
}

// Outcome describes a finished artifact.
type Outcome struct {
	TotalRecords int
	Path         string
	Size         int64
	DownloadURL  string
	ExpiresAt    time.Time
	// Cancelled is set when the export left processing mid-run. No
	// artifact is left behind in that case.
	Cancelled bool
}

var errCancelled = errors.New("export cancelled")

// Option configures exporter components.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.WallClock, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Pipeline generates export artifacts.
type Pipeline struct {
	customers repository.CustomerRepository
	exports   repository.ExportRepository
	activity  ActivityCounter
	files     storage.Storage
	signer    storage.Signer
	cfg       Config
	clock     clock.Clock
	logger    *zap.SugaredLogger
}

func NewPipeline(
	customers repository.CustomerRepository,
	exports repository.ExportRepository,
	activity ActivityCounter,
	files storage.Storage,
	signer storage.Signer,
	cfg Config,
	opts ...Option,
) *Pipeline {
	def := DefaultConfig()
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = def.DownloadTTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	o := buildOptions(opts)
	return &Pipeline{
		customers: customers,
		exports:   exports,
		activity:  activity,
		files:     files,
		signer:    signer,
		cfg:       cfg,
		clock:     o.clock,
		logger:    o.logger,
	}
}

// GenerateExportFile writes the customers selected by exp to storage and
// signs a download reference. exp must be processing; it is not modified.
func (p *Pipeline) GenerateExportFile(ctx context.Context, exp *model.Export) (*Outcome, error) {
	log := p.logger.With("export_id", exp.ID, "user_id", exp.UserID, "format", exp.Format)
	if !exp.Format.Valid() {
		return nil, goerrors.New("unsupported export format "+string(exp.Format), goerrors.CategoryValidation)
	}

	now := p.clock.Now().UTC()
	path := storage.ExportPath(exp.UserID, exp.Format.Extension(), now)

	pr, pw := io.Pipe()
	counted := make(chan encodeResult, 1)
	go func() {
		total, err := p.encode(ctx, exp, pw, now)
		pw.CloseWithError(err)
		counted <- encodeResult{total: total, err: err}
	}()

	size, putErr := p.files.PutStream(ctx, path, pr)
	pr.CloseWithError(putErr)
	res := <-counted

	if errors.Is(res.err, errCancelled) {
		log.Infow("export cancelled while streaming")
		p.discard(ctx, path)
		return &Outcome{Cancelled: true}, nil
	}
	if res.err != nil {
		p.discard(ctx, path)
		return nil, res.err
	}
	if putErr != nil {
		p.discard(ctx, path)
		return nil, putErr
	}

	expires := now.Add(p.cfg.DownloadTTL)
	url, err := p.signer.SignedURL(ctx, path, expires)
	if err != nil {
		p.discard(ctx, path)
		return nil, err
	}

	metrics.ExportRecords.WithLabelValues(string(exp.Format)).Add(float64(res.total))
	log.Infow("export file generated", "records", res.total, "path", path, "size", size)
	return &Outcome{
		TotalRecords: res.total,
		Path:         path,
		Size:         size,
		DownloadURL:  url,
		ExpiresAt:    expires,
	}, nil
}

type encodeResult struct {
	total int
	err   error
}

func (p *Pipeline) encode(ctx context.Context, exp *model.Export, w io.Writer, now time.Time) (int, error) {
	enc, err := newEncoder(exp, w)
	if err != nil {
		return 0, err
	}
	if err := enc.begin(); err != nil {
		return 0, err
	}

	filter := exp.Filters
	if exp.Type == model.ExportAll {
		filter = model.CustomerFilter{}
	}

	total := 0
	err = p.customers.Each(ctx, exp.UserID, filter, p.cfg.BatchSize, func(c *model.Customer) error {
		r := record{Customer: c}
		if exp.IncludeActivity && p.activity != nil {
			n, err := p.activity.CountForSubject(ctx, exp.UserID, model.SubjectCustomer, c.ID)
			if err != nil {
				return err
			}
			r.ActivityCount = n
		}
		if err := enc.write(r); err != nil {
			return err
		}
		total++
		if total%p.cfg.BatchSize == 0 {
			ok, err := p.exports.Heartbeat(ctx, exp.UserID, exp.ID)
			if err != nil {
				return err
			}
			if !ok {
				return errCancelled
			}
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, enc.end(total, now)
}

func (p *Pipeline) discard(ctx context.Context, path string) {
	// the request context may be gone already
	ctx = context.WithoutCancel(ctx)
	if err := p.files.Delete(ctx, path); err != nil {
		p.logger.Warnw("failed to remove partial export artifact", "path", path, "err", err)
	}
}
