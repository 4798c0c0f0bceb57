package repository

import (
	"context"
	"strings"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-crm-batch/model"
)

const entityCustomer = "customer"

var customerColumns = []string{
	"first_name", "last_name", "email", "phone", "organization",
	"job_title", "birthdate", "notes", "slug", "updated_at",
}

// Customers is the bun CustomerRepository.
type Customers struct {
	base
}

var _ CustomerRepository = (*Customers)(nil)

func NewCustomers(db bun.IDB, opts ...Option) *Customers {
	return &Customers{base: newBase(db, opts)}
}

func (r *Customers) Create(ctx context.Context, userID int64, c *model.Customer) error {
	now := r.now()
	c.ID = 0
	c.UserID = userID
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.CreatedAt = now
	c.UpdatedAt = now

	if _, err := r.db.NewInsert().Model(c).Exec(ctx); err != nil {
		return r.mapWriteErr(err, c)
	}
	return nil
}

func (r *Customers) Update(ctx context.Context, userID int64, c *model.Customer) error {
	if err := r.checkOwner(ctx, (*model.Customer)(nil), entityCustomer, userID, c.ID); err != nil {
		return err
	}
	c.UserID = userID
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.UpdatedAt = r.now()

	_, err := r.db.NewUpdate().
		Model(c).
		Column(customerColumns...).
		Where("id = ?", c.ID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return r.mapWriteErr(err, c)
	}
	return nil
}

func (r *Customers) Delete(ctx context.Context, userID, id int64) error {
	if err := r.checkOwner(ctx, (*model.Customer)(nil), entityCustomer, userID, id); err != nil {
		return err
	}
	_, err := r.db.NewDelete().
		Model((*model.Customer)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (r *Customers) mapWriteErr(err error, c *model.Customer) error {
	if !isUniqueViolation(err) {
		return err
	}
	if strings.Contains(err.Error(), "slug") {
		return duplicate(CodeDuplicateSlug, "slug", c.Slug)
	}
	return duplicate(CodeDuplicateEmail, "email", c.Email)
}

func (r *Customers) FindByID(ctx context.Context, userID, id int64) (*model.Customer, error) {
	c := new(model.Customer)
	err := r.db.NewSelect().Model(c).Where("id = ?", id).Limit(1).Scan(ctx)
	if noRows(err) {
		return nil, NotFound(entityCustomer, id)
	}
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, OwnershipViolation(entityCustomer, id, userID)
	}
	return c, nil
}

func (r *Customers) FindBySlug(ctx context.Context, userID int64, slug string) (*model.Customer, error) {
	return r.findOne(ctx, slug, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("user_id = ?", userID).Where("slug = ?", slug)
	})
}

func (r *Customers) FindByEmail(ctx context.Context, userID int64, email string) (*model.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.findOne(ctx, email, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("user_id = ?", userID).Where("email = ?", email)
	})
}

func (r *Customers) findOne(ctx context.Context, ident string, scope func(*bun.SelectQuery) *bun.SelectQuery) (*model.Customer, error) {
	c := new(model.Customer)
	err := scope(r.db.NewSelect().Model(c)).Limit(1).Scan(ctx)
	if noRows(err) {
		return nil, NotFound(entityCustomer, ident)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Customers) FindByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Customer, error) {
	out := []model.Customer{}
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.NewSelect().
		Model(&out).
		Where("user_id = ?", userID).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	return out, err
}

func (r *Customers) ExistsBySlug(ctx context.Context, userID int64, slug string) (bool, error) {
	return r.db.NewSelect().
		Model((*model.Customer)(nil)).
		Where("user_id = ?", userID).
		Where("slug = ?", slug).
		Exists(ctx)
}

// likeEscaper makes % and _ in a search term match literally.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// ApplyCustomerFilter narrows q with the shared search semantics. Search
// is a case insensitive substring over name, email, and organization.
// Organization and job title match exactly.
func ApplyCustomerFilter(q *bun.SelectQuery, f model.CustomerFilter) *bun.SelectQuery {
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := "%" + likeEscaper.Replace(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(first_name) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(last_name) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(email) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(organization) LIKE ? ESCAPE '!'", like)
		})
	}
	if f.Organization != "" {
		q = q.Where("organization = ?", f.Organization)
	}
	if f.JobTitle != "" {
		q = q.Where("job_title = ?", f.JobTitle)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		q = q.Where("created_at <= ?", f.CreatedTo.UTC())
	}
	return q
}

func (r *Customers) Search(ctx context.Context, userID int64, filter model.CustomerFilter, page model.Page) (*model.PageResult[model.Customer], error) {
	page = page.Normalize()
	items := []model.Customer{}
	q := r.db.NewSelect().Model(&items).Where("user_id = ?", userID)
	total, err := ApplyCustomerFilter(q, filter).
		Order("created_at DESC", "id DESC").
		Limit(page.Size).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return nil, err
	}
	return &model.PageResult[model.Customer]{Items: items, Total: total, Page: page}, nil
}

// Each streams the filtered customers in id order, batch rows per query.
// No cursor stays open while fn runs, so fn may write to the database.
func (r *Customers) Each(ctx context.Context, userID int64, filter model.CustomerFilter, batch int, fn func(*model.Customer) error) error {
	if batch <= 0 {
		batch = 200
	}
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows := []model.Customer{}
		q := r.db.NewSelect().
			Model(&rows).
			Where("user_id = ?", userID).
			Where("id > ?", lastID)
		if err := ApplyCustomerFilter(q, filter).Order("id ASC").Limit(batch).Scan(ctx); err != nil {
			return err
		}
		for i := range rows {
			if err := fn(&rows[i]); err != nil {
				return err
			}
		}
		if len(rows) < batch {
			return nil
		}
		lastID = rows[len(rows)-1].ID
	}
}

func (r *Customers) AllForUser(ctx context.Context, userID int64) ([]model.Customer, error) {
	out := []model.Customer{}
	err := r.db.NewSelect().Model(&out).Where("user_id = ?", userID).Order("id ASC").Scan(ctx)
	return out, err
}

func (r *Customers) Count(ctx context.Context, userID int64) (int, error) {
	return r.db.NewSelect().Model((*model.Customer)(nil)).Where("user_id = ?", userID).Count(ctx)
}

func (r *Customers) Recent(ctx context.Context, userID int64, limit int) ([]model.Customer, error) {
	out := []model.Customer{}
	err := r.db.NewSelect().
		Model(&out).
		Where("user_id = ?", userID).
		Order("created_at DESC", "id DESC").
		Limit(clampLimit(limit)).
		Scan(ctx)
	return out, err
}

func (r *Customers) CountByOrganization(ctx context.Context, userID int64) (map[string]int, error) {
	var rows []struct {
		Organization string `bun:"organization"`
		Total        int    `bun:"total"`
	}
	err := r.db.NewSelect().
		Model((*model.Customer)(nil)).
		Column("organization").
		ColumnExpr("COUNT(*) AS total").
		Where("user_id = ?", userID).
		Group("organization").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Organization] = row.Total
	}
	return out, nil
}
