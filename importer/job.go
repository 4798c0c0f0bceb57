package importer

import (
	"context"
	"encoding/json"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/audit"
	"github.com/goliatone/go-crm-batch/jobs"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
)

// JobKind is the queue kind of import jobs.
const JobKind = "import.process"

// Payload identifies the import a job runs.
type Payload struct {
	ImportID int64 `json:"import_id"`
	UserID   int64 `json:"user_id"`
}

// runColumns are written when an import (re)enters processing.
var runColumns = []string{
	"total_rows", "processed_rows", "successful_rows", "failed_rows",
	"validation_errors", "row_errors", "error_message", "attempts", "started_at", "completed_at",
}

// Job drives the import state machine around a Pipeline run.
type Job struct {
	imports  repository.ImportRepository
	pipeline *Pipeline
	events   audit.Publisher
	clock    clock.Clock
	logger   *zap.SugaredLogger
}

var (
	_ jobs.Handler        = (*Job)(nil)
	_ jobs.FailureHandler = (*Job)(nil)
)

func NewJob(imports repository.ImportRepository, pipeline *Pipeline, events audit.Publisher, opts ...Option) *Job {
	o := buildOptions(opts)
	return &Job{imports: imports, pipeline: pipeline, events: events, clock: o.clock, logger: o.logger}
}

func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, jobs.Permanent(err)
	}
	return p, nil
}

// Handle runs one attempt. Every attempt starts from row zero; rows created
// by earlier attempts are recognised by their import id.
func (j *Job) Handle(ctx context.Context, raw []byte) error {
	p, err := decodePayload(raw)
	if err != nil {
		return err
	}
	log := j.logger.With("import_id", p.ImportID, "user_id", p.UserID)

	imp, err := j.imports.FindByID(ctx, p.UserID, p.ImportID)
	if err != nil {
		if repository.IsNotFound(err) || repository.IsOwnershipViolation(err) {
			return jobs.Permanent(err)
		}
		return err
	}

	switch imp.Status {
	case model.StatusCompleted, model.StatusCancelled, model.StatusExpired:
		log.Infow("import already finished, skipping", "status", imp.Status)
		return nil
	case model.StatusProcessing:
		// the previous attempt died without settling the record
		imp.Status = model.StatusFailed
		imp.ErrorMessage = "interrupted"
		if _, err := j.imports.Transition(ctx, p.UserID, imp, []model.Status{model.StatusProcessing}, "error_message"); err != nil {
			return err
		}
	}

	now := j.clock.Now().UTC()
	imp.ResetProgress()
	imp.Status = model.StatusProcessing
	imp.Attempts++
	imp.StartedAt = &now
	ok, err := j.imports.Transition(ctx, p.UserID, imp, []model.Status{model.StatusPending, model.StatusFailed}, runColumns...)
	if err != nil {
		return err
	}
	if !ok {
		log.Infow("import changed state before processing, skipping")
		return nil
	}

	out, err := j.pipeline.ProcessImportFile(ctx, imp)
	if err != nil {
		j.markFailed(ctx, imp, err)
		return err
	}
	if out.Cancelled {
		log.Infow("import cancelled while processing")
		return nil
	}

	done := j.clock.Now().UTC()
	imp.Status = model.StatusCompleted
	imp.CompletedAt = &done
	ok, err = j.imports.Transition(ctx, p.UserID, imp, []model.Status{model.StatusProcessing},
		"total_rows", "processed_rows", "successful_rows", "failed_rows", "row_errors", "completed_at")
	if err != nil {
		return err
	}
	if !ok {
		// cancelled after the last row; the cancellation stands
		log.Infow("import cancelled before completion was recorded")
		return nil
	}
	j.publish(ctx, imp)
	return nil
}

// markFailed runs detached from ctx: the attempt usually fails because
// ctx was cancelled or timed out.
func (j *Job) markFailed(ctx context.Context, imp *model.Import, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := j.clock.Now().UTC()
	imp.Status = model.StatusFailed
	imp.ErrorMessage = cause.Error()
	imp.CompletedAt = &now
	ok, err := j.imports.Transition(ctx, imp.UserID, imp, []model.Status{model.StatusProcessing},
		"total_rows", "processed_rows", "successful_rows", "failed_rows",
		"validation_errors", "row_errors", "error_message", "completed_at")
	if err != nil {
		j.logger.Errorw("failed to record import failure", "import_id", imp.ID, "err", err)
		return
	}
	if !ok {
		j.logger.Infow("import left processing before failure was recorded", "import_id", imp.ID)
	}
}

// Failed is called once no further attempt will run. It re-asserts the
// failed status and records the outcome.
func (j *Job) Failed(ctx context.Context, raw []byte, cause error) {
	p, err := decodePayload(raw)
	if err != nil {
		j.logger.Errorw("undecodable import payload", "err", err)
		return
	}
	imp, err := j.imports.FindByID(ctx, p.UserID, p.ImportID)
	if err != nil {
		j.logger.Errorw("failed to load import after final failure", "import_id", p.ImportID, "err", err)
		return
	}
	switch imp.Status {
	case model.StatusCompleted, model.StatusCancelled, model.StatusExpired:
		return
	case model.StatusPending, model.StatusProcessing:
		imp.Status = model.StatusFailed
		imp.ErrorMessage = cause.Error()
		if _, err := j.imports.Transition(ctx, p.UserID, imp, []model.Status{model.StatusPending, model.StatusProcessing}, "error_message"); err != nil {
			j.logger.Errorw("failed to mark import failed", "import_id", imp.ID, "err", err)
			return
		}
	}
	j.logger.Warnw("import failed permanently", "import_id", imp.ID, "err", cause)
	j.publish(ctx, imp)
}

func (j *Job) publish(ctx context.Context, imp *model.Import) {
	if j.events == nil {
		return
	}
	if err := j.events.Publish(ctx, audit.ImportFinished{UserID: imp.UserID, Import: *imp}); err != nil {
		j.logger.Errorw("failed to publish import event", "import_id", imp.ID, "err", err)
	}
}
