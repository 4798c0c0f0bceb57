package repository

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-crm-batch/model"
)

const entityImport = "import"

var importProgressColumns = []string{
	"total_rows", "processed_rows", "successful_rows", "failed_rows", "row_errors", "updated_at",
}

// Imports is the bun ImportRepository.
type Imports struct {
	base
}

var _ ImportRepository = (*Imports)(nil)

func NewImports(db bun.IDB, opts ...Option) *Imports {
	return &Imports{base: newBase(db, opts)}
}

func (r *Imports) Create(ctx context.Context, userID int64, imp *model.Import) error {
	now := r.now()
	imp.ID = 0
	imp.UserID = userID
	if imp.Status == "" {
		imp.Status = model.StatusPending
	}
	if imp.RowErrors == nil {
		imp.RowErrors = map[string][]string{}
	}
	if imp.ValidationErrors == nil {
		imp.ValidationErrors = []string{}
	}
	imp.CreatedAt = now
	imp.UpdatedAt = now
	_, err := r.db.NewInsert().Model(imp).Exec(ctx)
	return err
}

// Update writes columns of an owned import. Without columns every column
// is written.
func (r *Imports) Update(ctx context.Context, userID int64, imp *model.Import, columns ...string) error {
	if err := r.checkOwner(ctx, (*model.Import)(nil), entityImport, userID, imp.ID); err != nil {
		return err
	}
	imp.UserID = userID
	imp.UpdatedAt = r.now()
	q := r.db.NewUpdate().Model(imp).Where("id = ?", imp.ID).Where("user_id = ?", userID)
	if len(columns) > 0 {
		q = q.Column(withColumns(columns, "updated_at")...)
	} else {
		q = q.ExcludeColumn("id", "user_id", "created_at")
	}
	_, err := q.Exec(ctx)
	return err
}

func (r *Imports) Delete(ctx context.Context, userID, id int64) error {
	if err := r.checkOwner(ctx, (*model.Import)(nil), entityImport, userID, id); err != nil {
		return err
	}
	_, err := r.db.NewDelete().Model((*model.Import)(nil)).Where("id = ?", id).Where("user_id = ?", userID).Exec(ctx)
	return err
}

func (r *Imports) Transition(ctx context.Context, userID int64, imp *model.Import, from []model.Status, columns ...string) (bool, error) {
	for _, f := range from {
		if !f.CanTransition(imp.Status) {
			return false, InvalidTransition(entityImport, imp.ID, f, imp.Status)
		}
	}
	imp.UpdatedAt = r.now()
	res, err := r.db.NewUpdate().
		Model(imp).
		Column(withColumns(columns, "status", "updated_at")...).
		Where("id = ?", imp.ID).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(statusStrings(from))).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	// nothing matched: either the caller does not own it or the status moved on
	if err := r.checkOwner(ctx, (*model.Import)(nil), entityImport, userID, imp.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *Imports) UpdateProgress(ctx context.Context, userID int64, imp *model.Import) (bool, error) {
	imp.UpdatedAt = r.now()
	res, err := r.db.NewUpdate().
		Model(imp).
		Column(importProgressColumns...).
		Where("id = ?", imp.ID).
		Where("user_id = ?", userID).
		Where("status = ?", model.StatusProcessing).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Imports) FindByID(ctx context.Context, userID, id int64) (*model.Import, error) {
	imp := new(model.Import)
	err := r.db.NewSelect().Model(imp).Where("id = ?", id).Limit(1).Scan(ctx)
	if noRows(err) {
		return nil, NotFound(entityImport, id)
	}
	if err != nil {
		return nil, err
	}
	if imp.UserID != userID {
		return nil, OwnershipViolation(entityImport, id, userID)
	}
	return imp, nil
}

func (r *Imports) AllForUser(ctx context.Context, userID int64) ([]model.Import, error) {
	out := []model.Import{}
	err := r.db.NewSelect().Model(&out).Where("user_id = ?", userID).Order("id ASC").Scan(ctx)
	return out, err
}

func (r *Imports) List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Import], error) {
	page = page.Normalize()
	items := []model.Import{}
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
	return &model.PageResult[model.Import]{Items: items, Total: total, Page: page}, nil
}

func (r *Imports) Recent(ctx context.Context, userID int64, limit int) ([]model.Import, error) {
	out := []model.Import{}
	err := r.db.NewSelect().
		Model(&out).
		Where("user_id = ?", userID).
		Order("created_at DESC", "id DESC").
		Limit(clampLimit(limit)).
		Scan(ctx)
	return out, err
}

func (r *Imports) CountByStatus(ctx context.Context, userID int64) (map[model.Status]int, error) {
	return countByStatus(ctx, r.db, (*model.Import)(nil), userID)
}

func countByStatus(ctx context.Context, db bun.IDB, tableModel any, userID int64) (map[model.Status]int, error) {
	var rows []struct {
		Status string `bun:"status"`
		Total  int    `bun:"total"`
	}
	err := db.NewSelect().
		Model(tableModel).
		Column("status").
		ColumnExpr("COUNT(*) AS total").
		Where("user_id = ?", userID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[model.Status]int, len(rows))
	for _, row := range rows {
		out[model.Status(row.Status)] = row.Total
	}
	return out, nil
}
