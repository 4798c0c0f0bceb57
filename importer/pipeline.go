// Package importer turns stored delimited files into customer records.
//
// Files are streamed twice: once to fix the total row count, once to
// validate and create customers row by row. Bad rows are recorded on the
// import and never abort the batch.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/goliatone/go-crm-batch/internal/metrics"
	"github.com/goliatone/go-crm-batch/jobs"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/repositorycache"
	"github.com/goliatone/go-crm-batch/storage"
)

// CustomerWriter creates customers on behalf of an import.
type CustomerWriter interface {
	FindByEmail(ctx context.Context, userID int64, email string) (*model.Customer, error)
	CreateImported(ctx context.Context, userID int64, c *model.Customer) error
}

// Config tunes the pipeline.
type Config struct {
	ProgressEvery int `koanf:"progress_every"`
}

const defaultProgressEvery = 25

// Outcome summarizes one pipeline run.
type Outcome struct {
	Total            int
	Successful       int
	Failed           int
	ValidationErrors []string
	RowErrors        map[string][]string
	// Cancelled is set when the import left processing mid-run.
	Cancelled bool
}

// Pipeline processes import files.
type Pipeline struct {
	files     storage.Storage
	imports   repository.ImportRepository
	customers CustomerWriter
	cfg       Config
	clock     clock.Clock
	logger    *zap.SugaredLogger
}

// Option configures a Pipeline or a job handler.
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

func NewPipeline(files storage.Storage, imports repository.ImportRepository, customers CustomerWriter, cfg Config, opts ...Option) *Pipeline {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	o := buildOptions(opts)
	return &Pipeline{
		files:     files,
		imports:   imports,
		customers: customers,
		cfg:       cfg,
		clock:     o.clock,
		logger:    o.logger,
	}
}

// ProcessImportFile runs imp, which must already be processing, and keeps
// its counters current. Row problems are recorded on imp. The returned
// error is reserved for job level failures; header problems are wrapped
// with jobs.Permanent since retrying cannot fix them.
func (p *Pipeline) ProcessImportFile(ctx context.Context, imp *model.Import) (*Outcome, error) {
	log := p.logger.With("import_id", imp.ID, "user_id", imp.UserID)

	total, err := p.count(ctx, imp)
	if err != nil {
		return nil, err
	}
	imp.TotalRows = total
	if ok, err := p.imports.UpdateProgress(ctx, imp.UserID, imp); err != nil {
		return nil, err
	} else if !ok {
		log.Infow("import left processing before rows were read")
		return p.outcome(imp, true), nil
	}

	rc, r, err := p.open(ctx, imp)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cols, err := p.columns(r, imp)
	if err != nil {
		return nil, err
	}

	// customer writes invalidate the cache once per progress write
	rowCtx, flush := repositorycache.DeferInvalidation(ctx)
	defer p.flush(context.WithoutCancel(ctx), flush)

	now := p.clock.Now()
	index := 0
	accepted := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "read import file")
			}
			index++
			p.reject(imp, index, fmt.Sprintf("malformed row: %v", perr.Err))
		} else {
			index++
			if err := p.processRow(rowCtx, imp, cols, index, record, now, accepted); err != nil {
				return nil, err
			}
		}

		if index%p.cfg.ProgressEvery == 0 {
			p.flush(ctx, flush)
			ok, err := p.imports.UpdateProgress(ctx, imp.UserID, imp)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Infow("import cancelled, stopping", "row", index)
				return p.outcome(imp, true), nil
			}
		}
	}

	p.flush(ctx, flush)
	ok, err := p.imports.UpdateProgress(ctx, imp.UserID, imp)
	if err != nil {
		return nil, err
	}
	log.Infow("import file processed",
		"total", imp.TotalRows, "successful", imp.SuccessfulRows, "failed", imp.FailedRows)
	return p.outcome(imp, !ok), nil
}

// processRow validates and stores one record. accepted holds the emails
// this attempt has already counted, so a repeated email in the file is a
// row failure even though the stored customer carries this import's id.
func (p *Pipeline) processRow(ctx context.Context, imp *model.Import, cols columns, index int, record []string, now time.Time, accepted map[string]struct{}) error {
	rw := newRow(cols, record)
	if problems := rw.validate(now); len(problems) > 0 {
		p.reject(imp, index, problems...)
		return nil
	}
	if _, dup := accepted[rw.Email]; dup {
		p.reject(imp, index, fmt.Sprintf("email: %s appears earlier in the file", rw.Email))
		return nil
	}

	existing, err := p.customers.FindByEmail(ctx, imp.UserID, rw.Email)
	switch {
	case err == nil && existing.ImportedBy(imp.ID):
		// created by an earlier attempt of this import
		accepted[rw.Email] = struct{}{}
		p.accept(imp)
		return nil
	case err == nil:
		p.reject(imp, index, fmt.Sprintf("email: %s already exists", rw.Email))
		return nil
	case !repository.IsNotFound(err):
		return err
	}

	if err := p.customers.CreateImported(ctx, imp.UserID, rw.customer(imp.ID)); err != nil {
		if repository.IsDuplicate(err) || goerrors.IsValidation(err) {
			p.reject(imp, index, err.Error())
			return nil
		}
		return err
	}
	accepted[rw.Email] = struct{}{}
	p.accept(imp)
	return nil
}

func (p *Pipeline) flush(ctx context.Context, flush func(context.Context) error) {
	if err := flush(ctx); err != nil {
		p.logger.Errorw("cache invalidation after import rows failed", "err", err)
	}
}

func (p *Pipeline) accept(imp *model.Import) {
	imp.RecordSuccess()
	metrics.ImportRows.WithLabelValues("success").Inc()
}

func (p *Pipeline) reject(imp *model.Import, index int, messages ...string) {
	imp.RecordFailure(index, messages...)
	metrics.ImportRows.WithLabelValues("failure").Inc()
}

func (p *Pipeline) outcome(imp *model.Import, cancelled bool) *Outcome {
	return &Outcome{
		Total:            imp.TotalRows,
		Successful:       imp.SuccessfulRows,
		Failed:           imp.FailedRows,
		ValidationErrors: imp.ValidationErrors,
		RowErrors:        imp.RowErrors,
		Cancelled:        cancelled,
	}
}

// columns reads and validates the header, or falls back to the standard
// order for headerless files.
func (p *Pipeline) columns(r *csv.Reader, imp *model.Import) (columns, error) {
	if !imp.HasHeader {
		return standardColumns(), nil
	}
	header, err := r.Read()
	if err == io.EOF {
		return p.invalid(imp, []string{"file is empty"})
	}
	if err != nil {
		return p.invalid(imp, []string{fmt.Sprintf("unreadable header: %v", err)})
	}
	cols, problems := parseHeader(header)
	if len(problems) > 0 {
		return p.invalid(imp, problems)
	}
	return cols, nil
}

func (p *Pipeline) invalid(imp *model.Import, problems []string) (columns, error) {
	imp.ValidationErrors = append(imp.ValidationErrors, problems...)
	return nil, jobs.Permanent(headerError(problems))
}

// count returns the number of data records.
func (p *Pipeline) count(ctx context.Context, imp *model.Import) (int, error) {
	rc, r, err := p.open(ctx, imp)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	r.ReuseRecord = true
	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if err != nil && !errors.As(err, &perr) {
			return 0, goerrors.Wrap(err, goerrors.CategoryExternal, "read import file")
		}
		n++
	}
	if imp.HasHeader && n > 0 {
		n--
	}
	return n, nil
}

func (p *Pipeline) open(ctx context.Context, imp *model.Import) (io.Closer, *csv.Reader, error) {
	rc, err := p.files.Open(ctx, imp.FilePath)
	if err != nil {
		if storage.IsNotFound(err) {
			imp.ValidationErrors = append(imp.ValidationErrors, "uploaded file is missing")
			return nil, nil, jobs.Permanent(err)
		}
		return nil, nil, err
	}
	decoded, err := decoder(rc, imp.Encoding)
	if err != nil {
		rc.Close()
		imp.ValidationErrors = append(imp.ValidationErrors, err.Error())
		return nil, nil, jobs.Permanent(err)
	}
	delim, err := delimiter(imp.Delimiter)
	if err != nil {
		rc.Close()
		imp.ValidationErrors = append(imp.ValidationErrors, err.Error())
		return nil, nil, jobs.Permanent(err)
	}

	r := csv.NewReader(decoded)
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return rc, r, nil
}

func decoder(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", model.EncodingUTF8, "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case model.EncodingLatin1, "latin1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	}
	return nil, goerrors.New(fmt.Sprintf("unsupported encoding %q", encoding), goerrors.CategoryValidation)
}

func delimiter(d string) (rune, error) {
	switch d {
	case "", model.DelimiterComma:
		return ',', nil
	case model.DelimiterSemicolon:
		return ';', nil
	case model.DelimiterPipe:
		return '|', nil
	}
	return 0, goerrors.New(fmt.Sprintf("unsupported delimiter %q", d), goerrors.CategoryValidation)
}
