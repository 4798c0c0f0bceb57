package service

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/audit"
	"github.com/goliatone/go-crm-batch/exporter"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/storage"
)

// ExportRequest describes an export to generate.
type ExportRequest struct {
	Type            model.ExportType
	Filters         model.CustomerFilter
	Format          model.Format
	IncludeNotes    bool
	IncludeActivity bool
}

func (r ExportRequest) validate() error {
	return validate(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Type, validation.Required, validation.In(model.ExportAll, model.ExportFiltered)),
			validation.Field(&r.Format, validation.Required, validation.In(model.FormatCSV, model.FormatXLSX, model.FormatJSON)),
			validation.Field(&r.Filters, validation.By(func(any) error {
				if r.Type == model.ExportFiltered && r.Filters.Empty() {
					return validation.NewError("validation_filters_required", "a filtered export needs at least one filter")
				}
				f := r.Filters
				if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
					return validation.NewError("validation_filters_range", "created_to must not be before created_from")
				}
				return nil
			})),
		)
	}, "invalid export request")
}

// DownloadState says whether an export can be downloaded right now.
type DownloadState string

const (
	DownloadReady    DownloadState = "ready"
	DownloadNotReady DownloadState = "not_ready"
	DownloadNotFound DownloadState = "not_found"
	DownloadExpired  DownloadState = "expired"
)

// Download is the answer to a download request. URL is only set when
// State is DownloadReady.
type Download struct {
	State       DownloadState
	Export      *model.Export
	URL         string
	Filename    string
	ContentType string
}

// Exports accepts export requests and serves their artifacts.
type Exports struct {
	repo    repository.ExportRepository
	files   storage.Storage
	signer  storage.Signer
	queue   Enqueuer
	cleanup *exporter.Cleanup
	events  audit.Publisher
	clock   clock.Clock
	logger  *zap.SugaredLogger
}

func NewExports(
	repo repository.ExportRepository,
	files storage.Storage,
	signer storage.Signer,
	queue Enqueuer,
	cleanup *exporter.Cleanup,
	events audit.Publisher,
	opts ...Option,
) *Exports {
	o := buildOptions(opts)
	return &Exports{
		repo:    repo,
		files:   files,
		signer:  signer,
		queue:   queue,
		cleanup: cleanup,
		events:  events,
		clock:   o.clock,
		logger:  o.logger,
	}
}

// Enqueue records a pending export and submits its job.
func (s *Exports) Enqueue(ctx context.Context, userID int64, req ExportRequest) (*model.Export, error) {
	if req.Type == "" {
		req.Type = model.ExportAll
		if !req.Filters.Empty() {
			req.Type = model.ExportFiltered
		}
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Type == model.ExportAll {
		req.Filters = model.CustomerFilter{}
	}

	now := s.clock.Now().UTC()
	exp := &model.Export{
		Filename:        fmt.Sprintf("customers_export_%s.%s", now.Format("20060102_150405"), req.Format.Extension()),
		Type:            req.Type,
		Filters:         req.Filters,
		Format:          req.Format,
		IncludeNotes:    req.IncludeNotes,
		IncludeActivity: req.IncludeActivity,
		Status:          model.StatusPending,
	}
	if err := s.repo.Create(ctx, userID, exp); err != nil {
		return nil, err
	}

	_, err := s.queue.Enqueue(ctx, exporter.JobKind, exporter.Payload{ExportID: exp.ID, UserID: userID})
	if err != nil {
		exp.Status = model.StatusFailed
		exp.ErrorMessage = fmt.Sprintf("could not queue export: %v", err)
		if _, terr := s.repo.Transition(ctx, userID, exp, []model.Status{model.StatusPending}, "error_message"); terr != nil {
			s.logger.Errorw("failed to mark unqueued export failed", "export_id", exp.ID, "err", terr)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "enqueue export")
	}
	s.logger.Infow("export queued", "export_id", exp.ID, "user_id", userID, "format", exp.Format)
	return exp, nil
}

// Cancel moves a pending or processing export to cancelled. It reports
// false when the export already finished.
func (s *Exports) Cancel(ctx context.Context, userID, id int64) (bool, error) {
	exp, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if !exp.Status.Cancellable() {
		return false, nil
	}
	now := s.clock.Now().UTC()
	exp.Status = model.StatusCancelled
	exp.CompletedAt = &now
	ok, err := s.repo.Transition(ctx, userID, exp, []model.Status{model.StatusPending, model.StatusProcessing}, "completed_at")
	if err != nil || !ok {
		return false, err
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, audit.ExportFinished{UserID: userID, Export: *exp}); err != nil {
			s.logger.Errorw("failed to publish export event", "export_id", id, "err", err)
		}
	}
	return true, nil
}

func (s *Exports) Get(ctx context.Context, userID, id int64) (*model.Export, error) {
	return s.repo.FindByID(ctx, userID, id)
}

func (s *Exports) List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Export], error) {
	return s.repo.List(ctx, userID, page)
}

func (s *Exports) Recent(ctx context.Context, userID int64, limit int) ([]model.Export, error) {
	return s.repo.Recent(ctx, userID, limit)
}

func (s *Exports) Stats(ctx context.Context, userID int64) (map[model.Status]int, error) {
	return s.repo.CountByStatus(ctx, userID)
}

// IsDownloadable reports whether exp is completed, unexpired, has a file
// reference and the artifact is still in storage.
func (s *Exports) IsDownloadable(ctx context.Context, exp *model.Export) (bool, error) {
	state, err := s.state(ctx, exp)
	return state == DownloadReady, err
}

func (s *Exports) state(ctx context.Context, exp *model.Export) (DownloadState, error) {
	switch exp.Status {
	case model.StatusPending, model.StatusProcessing:
		return DownloadNotReady, nil
	case model.StatusExpired:
		return DownloadExpired, nil
	case model.StatusCompleted:
	default:
		return DownloadNotFound, nil
	}
	if exp.ExpiredAt(s.clock.Now()) {
		return DownloadExpired, nil
	}
	if !exp.HasFile() {
		return DownloadNotFound, nil
	}
	ok, err := s.files.Exists(ctx, exp.Path())
	if err != nil {
		return DownloadNotFound, err
	}
	if !ok {
		s.logger.Warnw("completed export is missing its artifact", "export_id", exp.ID, "path", exp.Path())
		return DownloadNotFound, nil
	}
	return DownloadReady, nil
}

// Download resolves the download state of an export. Missing exports and
// exports of other users both come back as DownloadNotFound.
func (s *Exports) Download(ctx context.Context, userID, id int64) (*Download, error) {
	exp, err := s.repo.FindByID(ctx, userID, id)
	if repository.IsNotFound(err) || repository.IsOwnershipViolation(err) {
		return &Download{State: DownloadNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	state, err := s.state(ctx, exp)
	if err != nil {
		return nil, err
	}
	d := &Download{State: state, Export: exp}
	if state != DownloadReady {
		return d, nil
	}

	d.Filename = exp.Filename
	d.ContentType = exp.Format.ContentType()
	d.URL, err = s.url(ctx, exp)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// url re-signs the artifact so the link never outlives the export.
func (s *Exports) url(ctx context.Context, exp *model.Export) (string, error) {
	if s.signer == nil {
		if exp.DownloadURL != nil {
			return *exp.DownloadURL, nil
		}
		return "", goerrors.New("no download signer configured", goerrors.CategoryInternal)
	}
	expires := s.clock.Now().Add(time.Hour)
	if exp.ExpiresAt != nil && exp.ExpiresAt.Before(expires) {
		expires = *exp.ExpiresAt
	}
	return s.signer.SignedURL(ctx, exp.Path(), expires)
}

// CleanupExpired runs the export expiry sweep.
func (s *Exports) CleanupExpired(ctx context.Context) (int, error) {
	return s.cleanup.CleanupExpiredExports(ctx)
}
