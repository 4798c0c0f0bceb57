package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/go-crm-batch/cache"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
)

// DefaultImportTTLs keeps finished records for hours and in-flight counts
// for seconds.
var DefaultImportTTLs = TTLTable{
	"FindByID":      6 * time.Hour,
	"Recent":        time.Minute,
	"CountByStatus": 30 * time.Second,
}

// Imports is the cached ImportRepository. A record is only cached once it
// reached a terminal status.
type Imports struct {
	base repository.ImportRepository
	dec  *Decorator[*model.Import]
}

var _ repository.ImportRepository = (*Imports)(nil)

func NewImports(base repository.ImportRepository, coord *cache.Coordinator, ttls TTLTable, opts ...Option) (*Imports, error) {
	dec, err := NewDecorator(model.SubjectImport, coord, DefaultImportTTLs.Merge(ttls), func(i *model.Import) int64 { return i.ID }, opts...)
	if err != nil {
		return nil, err
	}
	return &Imports{base: base, dec: dec}, nil
}

func (r *Imports) Create(ctx context.Context, userID int64, imp *model.Import) error {
	if err := r.base.Create(ctx, userID, imp); err != nil {
		return err
	}
	r.dec.Invalidate(ctx, userID, imp)
	return nil
}

func (r *Imports) Update(ctx context.Context, userID int64, imp *model.Import, columns ...string) error {
	if err := r.base.Update(ctx, userID, imp, columns...); err != nil {
		return err
	}
	r.dec.Invalidate(ctx, userID, imp)
	return nil
}

func (r *Imports) Delete(ctx context.Context, userID, id int64) error {
	if err := r.base.Delete(ctx, userID, id); err != nil {
		return err
	}
	r.dec.InvalidateIDs(ctx, userID, id)
	return nil
}

func (r *Imports) Transition(ctx context.Context, userID int64, imp *model.Import, from []model.Status, columns ...string) (bool, error) {
	ok, err := r.base.Transition(ctx, userID, imp, from, columns...)
	if ok {
		r.dec.Invalidate(ctx, userID, imp)
	}
	return ok, err
}

func (r *Imports) UpdateProgress(ctx context.Context, userID int64, imp *model.Import) (bool, error) {
	ok, err := r.base.UpdateProgress(ctx, userID, imp)
	if ok {
		r.dec.Invalidate(ctx, userID, imp)
	}
	return ok, err
}

func (r *Imports) FindByID(ctx context.Context, userID, id int64) (*model.Import, error) {
	spec := ReadSpec[*model.Import]{
		Op:      "FindByID",
		Args:    []any{id},
		Tags:    []string{r.dec.Tag(id)},
		CacheIf: func(imp *model.Import) bool { return imp.Status.Terminal() },
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) (*model.Import, error) {
		return r.base.FindByID(ctx, userID, id)
	})
}

func (r *Imports) AllForUser(ctx context.Context, userID int64) ([]model.Import, error) {
	return r.base.AllForUser(ctx, userID)
}

func (r *Imports) List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Import], error) {
	return r.base.List(ctx, userID, page)
}

func (r *Imports) Recent(ctx context.Context, userID int64, limit int) ([]model.Import, error) {
	spec := ReadSpec[[]model.Import]{
		Op:   "Recent",
		Args: []any{limit},
		CacheIf: func(items []model.Import) bool {
			for _, imp := range items {
				if !imp.Status.Terminal() {
					return false
				}
			}
			return true
		},
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) ([]model.Import, error) {
		return r.base.Recent(ctx, userID, limit)
	})
}

func (r *Imports) CountByStatus(ctx context.Context, userID int64) (map[model.Status]int, error) {
	return Read(ctx, r.dec, userID, ReadSpec[map[model.Status]int]{Op: "CountByStatus"},
		func(ctx context.Context) (map[model.Status]int, error) { return r.base.CountByStatus(ctx, userID) })
}
