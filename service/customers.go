package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/audit"
	"github.com/goliatone/go-crm-batch/importer"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
)

const maxSlugAttempts = 20

// CustomerInput carries the writable customer fields.
type CustomerInput struct {
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	Organization string     `json:"organization"`
	JobTitle     string     `json:"job_title"`
	Birthdate    *time.Time `json:"birthdate"`
	Notes        string     `json:"notes"`
}

func (in CustomerInput) validate(now time.Time) error {
	return validate(func() error {
		return validation.ValidateStruct(&in,
			validation.Field(&in.FirstName, validation.Required, validation.RuneLength(1, 100)),
			validation.Field(&in.LastName, validation.RuneLength(0, 100)),
			validation.Field(&in.Email, validation.Required, validation.RuneLength(0, 255), is.EmailFormat),
			validation.Field(&in.Phone, validation.RuneLength(0, 50)),
			validation.Field(&in.Organization, validation.RuneLength(0, 255)),
			validation.Field(&in.JobTitle, validation.RuneLength(0, 255)),
			validation.Field(&in.Birthdate, validation.Max(now).Error("cannot be in the future")),
		)
	}, "invalid customer")
}

func (in CustomerInput) apply(c *model.Customer) {
	c.FirstName = strings.TrimSpace(in.FirstName)
	c.LastName = strings.TrimSpace(in.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(in.Email))
	c.Phone = strings.TrimSpace(in.Phone)
	c.Organization = strings.TrimSpace(in.Organization)
	c.JobTitle = strings.TrimSpace(in.JobTitle)
	c.Birthdate = in.Birthdate
	c.Notes = in.Notes
}

// Customers manages customer records and raises their audit events.
type Customers struct {
	repo   repository.CustomerRepository
	events audit.Publisher
	clock  clock.Clock
	logger *zap.SugaredLogger
}

var _ importer.CustomerWriter = (*Customers)(nil)

func NewCustomers(repo repository.CustomerRepository, events audit.Publisher, opts ...Option) *Customers {
	o := buildOptions(opts)
	return &Customers{repo: repo, events: events, clock: o.clock, logger: o.logger}
}

func (s *Customers) Create(ctx context.Context, userID int64, in CustomerInput, meta audit.Meta) (*model.Customer, error) {
	if err := in.validate(s.clock.Now()); err != nil {
		return nil, err
	}
	c := &model.Customer{}
	in.apply(c)
	if err := s.create(ctx, userID, c); err != nil {
		return nil, err
	}
	s.publish(ctx, audit.CustomerCreated{UserID: userID, Customer: *c, Meta: meta})
	return c, nil
}

// CreateImported stores a customer built by an import. The row was
// validated already; the import summary is audited instead of each row.
func (s *Customers) CreateImported(ctx context.Context, userID int64, c *model.Customer) error {
	return s.create(ctx, userID, c)
}

func (s *Customers) create(ctx context.Context, userID int64, c *model.Customer) error {
	if err := s.ensureEmailFree(ctx, userID, c.Email, 0); err != nil {
		return err
	}
	sl, err := s.uniqueSlug(ctx, userID, c.FullName(), 0)
	if err != nil {
		return err
	}
	c.Slug = sl
	return s.repo.Create(ctx, userID, c)
}

func (s *Customers) Update(ctx context.Context, userID, id int64, in CustomerInput, meta audit.Meta) (*model.Customer, error) {
	if err := in.validate(s.clock.Now()); err != nil {
		return nil, err
	}
	current, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	before := *current
	next := *current
	in.apply(&next)

	if next.Email != before.Email {
		if err := s.ensureEmailFree(ctx, userID, next.Email, id); err != nil {
			return nil, err
		}
	}
	if next.FullName() != before.FullName() {
		if next.Slug, err = s.uniqueSlug(ctx, userID, next.FullName(), id); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, userID, &next); err != nil {
		return nil, err
	}
	if changes := audit.Diff(before, next); len(changes) > 0 {
		s.publish(ctx, audit.CustomerUpdated{UserID: userID, Customer: next, Changes: changes, Meta: meta})
	}
	return &next, nil
}

func (s *Customers) Delete(ctx context.Context, userID, id int64, meta audit.Meta) error {
	c, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.publish(ctx, audit.CustomerDeleted{UserID: userID, CustomerID: id, Name: c.FullName(), Meta: meta})
	return nil
}

func (s *Customers) Get(ctx context.Context, userID, id int64) (*model.Customer, error) {
	return s.repo.FindByID(ctx, userID, id)
}

func (s *Customers) GetBySlug(ctx context.Context, userID int64, sl string) (*model.Customer, error) {
	return s.repo.FindBySlug(ctx, userID, sl)
}

func (s *Customers) FindByEmail(ctx context.Context, userID int64, email string) (*model.Customer, error) {
	return s.repo.FindByEmail(ctx, userID, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Customers) Search(ctx context.Context, userID int64, filter model.CustomerFilter, page model.Page) (*model.PageResult[model.Customer], error) {
	return s.repo.Search(ctx, userID, filter, page)
}

func (s *Customers) Recent(ctx context.Context, userID int64, limit int) ([]model.Customer, error) {
	return s.repo.Recent(ctx, userID, limit)
}

func (s *Customers) Count(ctx context.Context, userID int64) (int, error) {
	return s.repo.Count(ctx, userID)
}

func (s *Customers) ensureEmailFree(ctx context.Context, userID int64, email string, self int64) error {
	existing, err := s.repo.FindByEmail(ctx, userID, email)
	if repository.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == self {
		return nil
	}
	return goerrors.New(fmt.Sprintf("email %q has already been taken", email), goerrors.CategoryConflict).
		WithTextCode(repository.CodeDuplicateEmail).
		WithMetadata(map[string]any{"field": "email"})
}

// uniqueSlug derives a slug from name, suffixing -2, -3 and so on until it
// is free for the user. self is ignored when it already holds the slug.
func (s *Customers) uniqueSlug(ctx context.Context, userID int64, name string, self int64) (string, error) {
	root := slug.Make(name)
	if root == "" {
		root = "customer"
	}
	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := root
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", root, n)
		}
		taken, err := s.repo.ExistsBySlug(ctx, userID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		if self != 0 {
			if c, err := s.repo.FindBySlug(ctx, userID, candidate); err == nil && c.ID == self {
				return candidate, nil
			}
		}
	}
	return root + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8], nil
}

func (s *Customers) publish(ctx context.Context, e audit.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Errorw("failed to publish customer event", "event", fmt.Sprintf("%T", e), "err", err)
	}
}
