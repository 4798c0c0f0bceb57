package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/audit"
	"github.com/goliatone/go-crm-batch/importer"
	"github.com/goliatone/go-crm-batch/jobs"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/storage"
)

// Enqueuer submits background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts ...jobs.EnqueueOption) (*jobs.Job, error)
}

var _ Enqueuer = (*jobs.Queue)(nil)

// Upload is a file submitted for import.
type Upload struct {
	Filename  string
	Content   io.Reader
	Delimiter string
	Encoding  string
	HasHeader bool
}

var importExtensions = []interface{}{".csv", ".txt"}

func (u *Upload) normalize() {
	if u.Delimiter == "" {
		u.Delimiter = model.DelimiterComma
	}
	if u.Encoding == "" {
		u.Encoding = model.EncodingUTF8
	}
	u.Encoding = strings.ToLower(u.Encoding)
}

func (u Upload) validate() error {
	ext := strings.ToLower(filepath.Ext(u.Filename))
	return validate(func() error {
		return validation.Errors{
			"filename":  validation.Validate(u.Filename, validation.Required, validation.RuneLength(1, 255)),
			"extension": validation.Validate(ext, validation.In(importExtensions...).Error("file must be a .csv or .txt file")),
			"content":   validation.Validate(u.Content, validation.NotNil),
			"delimiter": validation.Validate(u.Delimiter, validation.In(model.DelimiterComma, model.DelimiterSemicolon, model.DelimiterPipe)),
			"encoding":  validation.Validate(u.Encoding, validation.In(model.EncodingUTF8, model.EncodingLatin1)),
		}.Filter()
	}, "invalid upload")
}

// Imports accepts uploads and exposes import progress.
type Imports struct {
	repo   repository.ImportRepository
	files  storage.Storage
	queue  Enqueuer
	events audit.Publisher
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewImports(repo repository.ImportRepository, files storage.Storage, queue Enqueuer, events audit.Publisher, opts ...Option) *Imports {
	o := buildOptions(opts)
	return &Imports{repo: repo, files: files, queue: queue, events: events, clock: o.clock, logger: o.logger}
}

// Enqueue stores the upload, records a pending import and submits its job.
// It returns as soon as the job is queued.
func (s *Imports) Enqueue(ctx context.Context, userID int64, up Upload) (*model.Import, error) {
	up.normalize()
	if err := up.validate(); err != nil {
		return nil, err
	}

	path := storage.ImportPath(userID, up.Filename, s.clock.Now())
	if _, err := s.files.PutStream(ctx, path, up.Content); err != nil {
		return nil, err
	}

	imp := &model.Import{
		Filename:         filepath.Base(path),
		OriginalFilename: filepath.Base(up.Filename),
		Status:           model.StatusPending,
		FilePath:         path,
		Delimiter:        up.Delimiter,
		Encoding:         up.Encoding,
		HasHeader:        up.HasHeader,
	}
	if err := s.repo.Create(ctx, userID, imp); err != nil {
		s.discard(ctx, path)
		return nil, err
	}

	_, err := s.queue.Enqueue(ctx, importer.JobKind, importer.Payload{ImportID: imp.ID, UserID: userID})
	if err != nil {
		imp.Status = model.StatusFailed
		imp.ErrorMessage = fmt.Sprintf("could not queue import: %v", err)
		if _, terr := s.repo.Transition(ctx, userID, imp, []model.Status{model.StatusPending}, "error_message"); terr != nil {
			s.logger.Errorw("failed to mark unqueued import failed", "import_id", imp.ID, "err", terr)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "enqueue import")
	}
	s.logger.Infow("import queued", "import_id", imp.ID, "user_id", userID, "file", imp.OriginalFilename)
	return imp, nil
}

// Cancel moves a pending or processing import to cancelled. It reports
// false when the import already finished.
func (s *Imports) Cancel(ctx context.Context, userID, id int64) (bool, error) {
	imp, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if !imp.Status.Cancellable() {
		return false, nil
	}
	now := s.clock.Now().UTC()
	imp.Status = model.StatusCancelled
	imp.CompletedAt = &now
	ok, err := s.repo.Transition(ctx, userID, imp, []model.Status{model.StatusPending, model.StatusProcessing}, "completed_at")
	if err != nil || !ok {
		return false, err
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, audit.ImportFinished{UserID: userID, Import: *imp}); err != nil {
			s.logger.Errorw("failed to publish import event", "import_id", id, "err", err)
		}
	}
	return true, nil
}

func (s *Imports) Get(ctx context.Context, userID, id int64) (*model.Import, error) {
	return s.repo.FindByID(ctx, userID, id)
}

func (s *Imports) List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Import], error) {
	return s.repo.List(ctx, userID, page)
}

func (s *Imports) Recent(ctx context.Context, userID int64, limit int) ([]model.Import, error) {
	return s.repo.Recent(ctx, userID, limit)
}

func (s *Imports) Stats(ctx context.Context, userID int64) (map[model.Status]int, error) {
	return s.repo.CountByStatus(ctx, userID)
}

func (s *Imports) discard(ctx context.Context, path string) {
	if err := s.files.Delete(context.WithoutCancel(ctx), path); err != nil {
		s.logger.Warnw("failed to remove orphaned upload", "path", path, "err", err)
	}
}
