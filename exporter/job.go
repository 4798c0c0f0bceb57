package exporter

import (
	"context"
	"encoding/json"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/audit"
	"github.com/goliatone/go-crm-batch/jobs"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/storage"
)

// JobKind is the queue kind of export jobs.
const JobKind = "export.generate"

// Payload identifies the export a job runs.
type Payload struct {
	ExportID int64 `json:"export_id"`
	UserID   int64 `json:"user_id"`
}

var completeColumns = []string{
	"total_records", "file_path", "download_url", "file_size", "expires_at", "completed_at",
}

// Job drives the export state machine around a Pipeline run.
type Job struct {
	exports  repository.ExportRepository
	pipeline *Pipeline
	files    storage.Storage
	events   audit.Publisher
	clock    clock.Clock
	logger   *zap.SugaredLogger
}

var (
	_ jobs.Handler        = (*Job)(nil)
	_ jobs.FailureHandler = (*Job)(nil)
)

func NewJob(exports repository.ExportRepository, pipeline *Pipeline, files storage.Storage, events audit.Publisher, opts ...Option) *Job {
	o := buildOptions(opts)
	return &Job{
		exports:  exports,
		pipeline: pipeline,
		files:    files,
		events:   events,
		clock:    o.clock,
		logger:   o.logger,
	}
}

func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, jobs.Permanent(err)
	}
	return p, nil
}

func (j *Job) Handle(ctx context.Context, raw []byte) error {
	p, err := decodePayload(raw)
	if err != nil {
		return err
	}
	log := j.logger.With("export_id", p.ExportID, "user_id", p.UserID)

	exp, err := j.exports.FindByID(ctx, p.UserID, p.ExportID)
	if err != nil {
		if repository.IsNotFound(err) || repository.IsOwnershipViolation(err) {
			return jobs.Permanent(err)
		}
		return err
	}

	switch exp.Status {
	case model.StatusCompleted, model.StatusCancelled, model.StatusExpired:
		log.Infow("export already finished, skipping", "status", exp.Status)
		return nil
	case model.StatusProcessing:
		exp.Status = model.StatusFailed
		exp.ErrorMessage = "interrupted"
		if _, err := j.exports.Transition(ctx, p.UserID, exp, []model.Status{model.StatusProcessing}, "error_message"); err != nil {
			return err
		}
	}

	now := j.clock.Now().UTC()
	exp.Status = model.StatusProcessing
	exp.Attempts++
	exp.StartedAt = &now
	exp.ErrorMessage = ""
	exp.TotalRecords = 0
	ok, err := j.exports.Transition(ctx, p.UserID, exp, []model.Status{model.StatusPending, model.StatusFailed},
		"attempts", "started_at", "error_message", "total_records")
	if err != nil {
		return err
	}
	if !ok {
		log.Infow("export changed state before processing, skipping")
		return nil
	}

	out, err := j.pipeline.GenerateExportFile(ctx, exp)
	if err != nil {
		j.markFailed(ctx, exp, err)
		return err
	}
	if out.Cancelled {
		log.Infow("export cancelled while processing")
		return nil
	}

	done := j.clock.Now().UTC()
	exp.Status = model.StatusCompleted
	exp.TotalRecords = out.TotalRecords
	exp.FilePath = &out.Path
	exp.DownloadURL = &out.DownloadURL
	exp.FileSize = out.Size
	exp.ExpiresAt = &out.ExpiresAt
	exp.CompletedAt = &done
	ok, err = j.exports.Transition(ctx, p.UserID, exp, []model.Status{model.StatusProcessing}, completeColumns...)
	if err != nil {
		j.discard(ctx, out.Path)
		return err
	}
	if !ok {
		// cancelled while the artifact was uploaded; it must not linger
		log.Infow("export cancelled before completion was recorded")
		j.discard(ctx, out.Path)
		return nil
	}
	j.publish(ctx, exp)
	return nil
}

// markFailed runs detached from ctx: the attempt usually fails because
// ctx was cancelled or timed out.
func (j *Job) markFailed(ctx context.Context, exp *model.Export, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := j.clock.Now().UTC()
	exp.Status = model.StatusFailed
	exp.ErrorMessage = cause.Error()
	exp.CompletedAt = &now
	ok, err := j.exports.Transition(ctx, exp.UserID, exp, []model.Status{model.StatusProcessing}, "error_message", "completed_at")
	if err != nil {
		j.logger.Errorw("failed to record export failure", "export_id", exp.ID, "err", err)
		return
	}
	if !ok {
		j.logger.Infow("export left processing before failure was recorded", "export_id", exp.ID)
	}
}

// Failed re-asserts the failed status once no further attempt will run.
func (j *Job) Failed(ctx context.Context, raw []byte, cause error) {
	p, err := decodePayload(raw)
	if err != nil {
		j.logger.Errorw("undecodable export payload", "err", err)
		return
	}
	exp, err := j.exports.FindByID(ctx, p.UserID, p.ExportID)
	if err != nil {
		j.logger.Errorw("failed to load export after final failure", "export_id", p.ExportID, "err", err)
		return
	}
	switch exp.Status {
	case model.StatusCompleted, model.StatusCancelled, model.StatusExpired:
		return
	case model.StatusPending, model.StatusProcessing:
		exp.Status = model.StatusFailed
		exp.ErrorMessage = cause.Error()
		if _, err := j.exports.Transition(ctx, p.UserID, exp, []model.Status{model.StatusPending, model.StatusProcessing}, "error_message"); err != nil {
			j.logger.Errorw("failed to mark export failed", "export_id", exp.ID, "err", err)
			return
		}
	}
	j.logger.Warnw("export failed permanently", "export_id", exp.ID, "err", cause)
	j.publish(ctx, exp)
}

func (j *Job) discard(ctx context.Context, path string) {
	if err := j.files.Delete(context.WithoutCancel(ctx), path); err != nil {
		j.logger.Warnw("failed to remove export artifact", "path", path, "err", err)
	}
}

func (j *Job) publish(ctx context.Context, exp *model.Export) {
	if j.events == nil {
		return
	}
	if err := j.events.Publish(ctx, audit.ExportFinished{UserID: exp.UserID, Export: *exp}); err != nil {
		j.logger.Errorw("failed to publish export event", "export_id", exp.ID, "err", err)
	}
}
