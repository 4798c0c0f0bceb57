package repository

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-crm-batch/model"
)

const archiveChunk = 500

// Audit is the bun AuditRepository. Entries are scoped by causer.
type Audit struct {
	base
}

var _ AuditRepository = (*Audit)(nil)

func NewAudit(db bun.IDB, opts ...Option) *Audit {
	return &Audit{base: newBase(db, opts)}
}

func (r *Audit) Append(ctx context.Context, a *model.Activity) error {
	a.ID = 0
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	if a.Properties == nil {
		a.Properties = map[string]any{}
	}
	_, err := r.db.NewInsert().Model(a).Exec(ctx)
	return err
}

func (r *Audit) Recent(ctx context.Context, userID int64, limit int) ([]model.Activity, error) {
	out := []model.Activity{}
	err := r.db.NewSelect().
		Model(&out).
		Where("causer_id = ?", userID).
		Order("created_at DESC", "id DESC").
		Limit(clampLimit(limit)).
		Scan(ctx)
	return out, err
}

func (r *Audit) ForSubject(ctx context.Context, userID int64, subjectType string, subjectID int64) ([]model.Activity, error) {
	out := []model.Activity{}
	err := r.subject(r.db.NewSelect().Model(&out), userID, subjectType, subjectID).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	return out, err
}

func (r *Audit) CountForSubject(ctx context.Context, userID int64, subjectType string, subjectID int64) (int, error) {
	return r.subject(r.db.NewSelect().Model((*model.Activity)(nil)), userID, subjectType, subjectID).Count(ctx)
}

func (r *Audit) subject(q *bun.SelectQuery, userID int64, subjectType string, subjectID int64) *bun.SelectQuery {
	return q.Where("causer_id = ?", userID).
		Where("subject_type = ?", subjectType).
		Where("subject_id = ?", subjectID)
}

// Between returns the user's activities with from <= created_at < to, oldest first.
func (r *Audit) Between(ctx context.Context, userID int64, from, to time.Time) ([]model.Activity, error) {
	out := []model.Activity{}
	err := r.db.NewSelect().
		Model(&out).
		Where("causer_id = ?", userID).
		Where("created_at >= ?", from.UTC()).
		Where("created_at < ?", to.UTC()).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	return out, err
}

// ArchiveBefore moves every entry older than cutoff into activity_archive.
// Each chunk is copied and removed in one transaction.
func (r *Audit) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	cutoff = cutoff.UTC()
	total := 0
	for {
		moved := 0
		err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			rows := []model.Activity{}
			err := tx.NewSelect().
				Model(&rows).
				Where("created_at < ?", cutoff).
				Order("id ASC").
				Limit(archiveChunk).
				Scan(ctx)
			if err != nil || len(rows) == 0 {
				return err
			}

			at := r.now()
			archived := make([]model.ArchivedActivity, len(rows))
			ids := make([]int64, len(rows))
			for i, row := range rows {
				archived[i] = row.Archive(at)
				ids[i] = row.ID
			}
			if _, err := tx.NewInsert().Model(&archived).Exec(ctx); err != nil {
				return err
			}
			if _, err := tx.NewDelete().Model((*model.Activity)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
				return err
			}
			moved = len(rows)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += moved
		if moved < archiveChunk {
			r.logger.Infow("activity archived", "count", total, "cutoff", cutoff)
			return total, nil
		}
	}
}
