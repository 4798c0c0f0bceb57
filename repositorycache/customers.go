package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/go-crm-batch/cache"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
)

// DefaultCustomerTTLs caches single records for an hour and aggregates for
// a few minutes.
var DefaultCustomerTTLs = TTLTable{
	"FindByID":            time.Hour,
	"FindBySlug":          time.Hour,
	"FindByEmail":         30 * time.Minute,
	"FindMany":            30 * time.Minute,
	"Count":               5 * time.Minute,
	"Recent":              2 * time.Minute,
	"CountByOrganization": 10 * time.Minute,
}

// Customers is the cached CustomerRepository.
type Customers struct {
	base repository.CustomerRepository
	dec  *Decorator[*model.Customer]
}

var _ repository.CustomerRepository = (*Customers)(nil)

// NewCustomers wraps base. A nil ttls uses DefaultCustomerTTLs.
func NewCustomers(base repository.CustomerRepository, coord *cache.Coordinator, ttls TTLTable, opts ...Option) (*Customers, error) {
	dec, err := NewDecorator(model.SubjectCustomer, coord, DefaultCustomerTTLs.Merge(ttls), func(c *model.Customer) int64 { return c.ID }, opts...)
	if err != nil {
		return nil, err
	}
	return &Customers{base: base, dec: dec}, nil
}

func (r *Customers) Create(ctx context.Context, userID int64, c *model.Customer) error {
	if err := r.base.Create(ctx, userID, c); err != nil {
		return err
	}
	r.dec.Invalidate(ctx, userID, c)
	return nil
}

func (r *Customers) Update(ctx context.Context, userID int64, c *model.Customer) error {
	if err := r.base.Update(ctx, userID, c); err != nil {
		return err
	}
	r.dec.Invalidate(ctx, userID, c)
	return nil
}

func (r *Customers) Delete(ctx context.Context, userID, id int64) error {
	if err := r.base.Delete(ctx, userID, id); err != nil {
		return err
	}
	r.dec.InvalidateIDs(ctx, userID, id)
	return nil
}

func (r *Customers) FindByID(ctx context.Context, userID, id int64) (*model.Customer, error) {
	return Read(ctx, r.dec, userID, ReadSpec[*model.Customer]{Op: "FindByID", Args: []any{id}, Tags: []string{r.dec.Tag(id)}},
		func(ctx context.Context) (*model.Customer, error) { return r.base.FindByID(ctx, userID, id) })
}

func (r *Customers) FindBySlug(ctx context.Context, userID int64, slug string) (*model.Customer, error) {
	return Read(ctx, r.dec, userID, ReadSpec[*model.Customer]{Op: "FindBySlug", Args: []any{slug}},
		func(ctx context.Context) (*model.Customer, error) { return r.base.FindBySlug(ctx, userID, slug) })
}

func (r *Customers) FindByEmail(ctx context.Context, userID int64, email string) (*model.Customer, error) {
	return Read(ctx, r.dec, userID, ReadSpec[*model.Customer]{Op: "FindByEmail", Args: []any{email}},
		func(ctx context.Context) (*model.Customer, error) { return r.base.FindByEmail(ctx, userID, email) })
}

// FindByIDs is keyed on the id set, so permutations share one entry.
func (r *Customers) FindByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Customer, error) {
	tags := make([]string, len(ids))
	for i, id := range ids {
		tags[i] = r.dec.Tag(id)
	}
	return Read(ctx, r.dec, userID, ReadSpec[[]model.Customer]{Op: "FindMany", Args: []any{ids}, Tags: tags},
		func(ctx context.Context) ([]model.Customer, error) { return r.base.FindByIDs(ctx, userID, ids) })
}

func (r *Customers) ExistsBySlug(ctx context.Context, userID int64, slug string) (bool, error) {
	return r.base.ExistsBySlug(ctx, userID, slug)
}

func (r *Customers) Search(ctx context.Context, userID int64, filter model.CustomerFilter, page model.Page) (*model.PageResult[model.Customer], error) {
	return r.base.Search(ctx, userID, filter, page)
}

func (r *Customers) Each(ctx context.Context, userID int64, filter model.CustomerFilter, batch int, fn func(*model.Customer) error) error {
	return r.base.Each(ctx, userID, filter, batch, fn)
}

func (r *Customers) AllForUser(ctx context.Context, userID int64) ([]model.Customer, error) {
	return r.base.AllForUser(ctx, userID)
}

func (r *Customers) Count(ctx context.Context, userID int64) (int, error) {
	return Read(ctx, r.dec, userID, ReadSpec[int]{Op: "Count"},
		func(ctx context.Context) (int, error) { return r.base.Count(ctx, userID) })
}

func (r *Customers) Recent(ctx context.Context, userID int64, limit int) ([]model.Customer, error) {
	return Read(ctx, r.dec, userID, ReadSpec[[]model.Customer]{Op: "Recent", Args: []any{limit}},
		func(ctx context.Context) ([]model.Customer, error) { return r.base.Recent(ctx, userID, limit) })
}

func (r *Customers) CountByOrganization(ctx context.Context, userID int64) (map[string]int, error) {
	return Read(ctx, r.dec, userID, ReadSpec[map[string]int]{Op: "CountByOrganization"},
		func(ctx context.Context) (map[string]int, error) { return r.base.CountByOrganization(ctx, userID) })
}
