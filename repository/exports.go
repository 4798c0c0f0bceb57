package repository

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-crm-batch/model"
)

const entityExport = "export"

// Exports is the bun ExportRepository.
type Exports struct {
	base
}

var _ ExportRepository = (*Exports)(nil)

func NewExports(db bun.IDB, opts ...Option) *Exports {
	return &Exports{base: newBase(db, opts)}
}

func (r *Exports) Create(ctx context.Context, userID int64, exp *model.Export) error {
	now := r.now()
	exp.ID = 0
	exp.UserID = userID
	if exp.Status == "" {
		exp.Status = model.StatusPending
	}
	exp.CreatedAt = now
	exp.UpdatedAt = now
	_, err := r.db.NewInsert().Model(exp).Exec(ctx)
	return err
}

func (r *Exports) Update(ctx context.Context, userID int64, exp *model.Export, columns ...string) error {
	if err := r.checkOwner(ctx, (*model.Export)(nil), entityExport, userID, exp.ID); err != nil {
		return err
	}
	exp.UserID = userID
	exp.UpdatedAt = r.now()
	q := r.db.NewUpdate().Model(exp).Where("id = ?", exp.ID).Where("user_id = ?", userID)
	if len(columns) > 0 {
		q = q.Column(withColumns(columns, "updated_at")...)
	} else {
		q = q.ExcludeColumn("id", "user_id", "created_at")
	}
	_, err := q.Exec(ctx)
	return err
}

func (r *Exports) Delete(ctx context.Context, userID, id int64) error {
	if err := r.checkOwner(ctx, (*model.Export)(nil), entityExport, userID, id); err != nil {
		return err
	}
	_, err := r.db.NewDelete().Model((*model.Export)(nil)).Where("id = ?", id).Where("user_id = ?", userID).Exec(ctx)
	return err
}

func (r *Exports) Transition(ctx context.Context, userID int64, exp *model.Export, from []model.Status, columns ...string) (bool, error) {
	for _, f := range from {
		if !f.CanTransition(exp.Status) {
			return false, InvalidTransition(entityExport, exp.ID, f, exp.Status)
		}
	}
	exp.UpdatedAt = r.now()
	res, err := r.db.NewUpdate().
		Model(exp).
		Column(withColumns(columns, "status", "updated_at")...).
		Where("id = ?", exp.ID).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(statusStrings(from))).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if err := r.checkOwner(ctx, (*model.Export)(nil), entityExport, userID, exp.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *Exports) Heartbeat(ctx context.Context, userID, id int64) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*model.Export)(nil)).
		Set("updated_at = ?", r.now()).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Where("status = ?", model.StatusProcessing).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Exports) FindByID(ctx context.Context, userID, id int64) (*model.Export, error) {
	exp := new(model.Export)
	err := r.db.NewSelect().Model(exp).Where("id = ?", id).Limit(1).Scan(ctx)
	if noRows(err) {
		return nil, NotFound(entityExport, id)
	}
	if err != nil {
		return nil, err
	}
	if exp.UserID != userID {
		return nil, OwnershipViolation(entityExport, id, userID)
	}
	return exp, nil
}

func (r *Exports) AllForUser(ctx context.Context, userID int64) ([]model.Export, error) {
	out := []model.Export{}
	err := r.db.NewSelect().Model(&out).Where("user_id = ?", userID).Order("id ASC").Scan(ctx)
	return out, err
}

func (r *Exports) List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Export], error) {
	page = page.Normalize()
	items := []model.Export{}
	total, err := r.db.NewSelect().
		Model(&items).
		Where("user_id = ?", userID).
		Order("created_at DESC", "id DESC").
		Limit(page.Size).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return nil, err
	}
	return &model.PageResult[model.Export]{Items: items, Total: total, Page: page}, nil
}

func (r *Exports) Recent(ctx context.Context, userID int64, limit int) ([]model.Export, error) {
	out := []model.Export{}
	err := r.db.NewSelect().
		Model(&out).
		Where("user_id = ?", userID).
		Order("created_at DESC", "id DESC").
		Limit(clampLimit(limit)).
		Scan(ctx)
	return out, err
}

func (r *Exports) CountByStatus(ctx context.Context, userID int64) (map[model.Status]int, error) {
	return countByStatus(ctx, r.db, (*model.Export)(nil), userID)
}

// FindExpired returns completed exports across all users whose expiry
// passed and whose artifact reference is still set.
func (r *Exports) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Export, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []model.Export{}
	err := r.db.NewSelect().
		Model(&out).
		Where("status = ?", model.StatusCompleted).
		Where("file_path IS NOT NULL").
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now.UTC()).
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	return out, err
}

// MarkExpired clears the artifact references and moves exp to expired. It
// reports false when another sweep already handled it.
func (r *Exports) MarkExpired(ctx context.Context, exp *model.Export) (bool, error) {
	exp.Status = model.StatusExpired
	exp.ClearFile()
	exp.UpdatedAt = r.now()
	res, err := r.db.NewUpdate().
		Model(exp).
		Column("status", "file_path", "download_url", "updated_at").
		Where("id = ?", exp.ID).
		Where("status = ?", model.StatusCompleted).
		Where("file_path IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
