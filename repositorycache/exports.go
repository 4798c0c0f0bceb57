package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/go-crm-batch/cache"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
)

var DefaultExportTTLs = TTLTable{
	"FindByID":      time.Hour,
	"Recent":        time.Minute,
	"CountByStatus": 30 * time.Second,
}

// Exports is the cached ExportRepository. Like Imports it skips in-flight
// records.
type Exports struct {
	base repository.ExportRepository
	dec  *Decorator[*model.Export]
}

var _ repository.ExportRepository = (*Exports)(nil)

func NewExports(base repository.ExportRepository, coord *cache.Coordinator, ttls TTLTable, opts ...Option) (*Exports, error) {
	dec, err := NewDecorator(model.SubjectExport, coord, DefaultExportTTLs.Merge(ttls), func(e *model.Export) int64 { return e.ID }, opts...)
	if err != nil {
		return nil, err
	}
	return &Exports{base: base, dec: dec}, nil
}

func (r *Exports) Create(ctx context.Context, userID int64, exp *model.Export) error {
	if err := r.base.Create(ctx, userID, exp); err != nil {
		return err
	}
	r.dec.Invalidate(ctx, userID, exp)
	return nil
}

func (r *Exports) Update(ctx context.Context, userID int64, exp *model.Export, columns ...string) error {
	if err := r.base.Update(ctx, userID, exp, columns...); err != nil {
		return err
	}
	r.dec.Invalidate(ctx, userID, exp)
	return nil
}

func (r *Exports) Delete(ctx context.Context, userID, id int64) error {
	if err := r.base.Delete(ctx, userID, id); err != nil {
		return err
	}
	r.dec.InvalidateIDs(ctx, userID, id)
	return nil
}

func (r *Exports) Transition(ctx context.Context, userID int64, exp *model.Export, from []model.Status, columns ...string) (bool, error) {
	ok, err := r.base.Transition(ctx, userID, exp, from, columns...)
	if ok {
		r.dec.Invalidate(ctx, userID, exp)
	}
	return ok, err
}

// Heartbeat only touches updated_at of an uncached record.
func (r *Exports) Heartbeat(ctx context.Context, userID, id int64) (bool, error) {
	return r.base.Heartbeat(ctx, userID, id)
}

func (r *Exports) FindByID(ctx context.Context, userID, id int64) (*model.Export, error) {
	spec := ReadSpec[*model.Export]{
		Op:      "FindByID",
		Args:    []any{id},
		Tags:    []string{r.dec.Tag(id)},
		CacheIf: func(exp *model.Export) bool { return exp.Status.Terminal() },
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) (*model.Export, error) {
		return r.base.FindByID(ctx, userID, id)
	})
}

func (r *Exports) AllForUser(ctx context.Context, userID int64) ([]model.Export, error) {
	return r.base.AllForUser(ctx, userID)
}

func (r *Exports) List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Export], error) {
	return r.base.List(ctx, userID, page)
}

func (r *Exports) Recent(ctx context.Context, userID int64, limit int) ([]model.Export, error) {
	spec := ReadSpec[[]model.Export]{
		Op:   "Recent",
		Args: []any{limit},
		CacheIf: func(items []model.Export) bool {
			for _, exp := range items {
				if !exp.Status.Terminal() {
					return false
				}
			}
			return true
		},
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) ([]model.Export, error) {
		return r.base.Recent(ctx, userID, limit)
	})
}

func (r *Exports) CountByStatus(ctx context.Context, userID int64) (map[model.Status]int, error) {
	return Read(ctx, r.dec, userID, ReadSpec[map[model.Status]int]{Op: "CountByStatus"},
		func(ctx context.Context) (map[model.Status]int, error) { return r.base.CountByStatus(ctx, userID) })
}

func (r *Exports) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Export, error) {
	return r.base.FindExpired(ctx, now, limit)
}

// MarkExpired invalidates the owner's entries when the sweep changed the record.
func (r *Exports) MarkExpired(ctx context.Context, exp *model.Export) (bool, error) {
	ok, err := r.base.MarkExpired(ctx, exp)
	if ok {
		r.dec.Invalidate(ctx, exp.UserID, exp)
	}
	return ok, err
}
