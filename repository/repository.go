// Package repository holds the bun backed, user scoped repositories.
//
// Every method takes the owning user id explicitly. Records are never
// returned to, or mutated on behalf of, a user who does not own them.
package repository

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/model"
)

// CustomerRepository is the scoped customer store.
type CustomerRepository interface {
	Create(ctx context.Context, userID int64, c *model.Customer) error
	Update(ctx context.Context, userID int64, c *model.Customer) error
	Delete(ctx context.Context, userID, id int64) error

	FindByID(ctx context.Context, userID, id int64) (*model.Customer, error)
	FindBySlug(ctx context.Context, userID int64, slug string) (*model.Customer, error)
	FindByEmail(ctx context.Context, userID int64, email string) (*model.Customer, error)
	FindByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Customer, error)
	ExistsBySlug(ctx context.Context, userID int64, slug string) (bool, error)

	Search(ctx context.Context, userID int64, filter model.CustomerFilter, page model.Page) (*model.PageResult[model.Customer], error)
	Each(ctx context.Context, userID int64, filter model.CustomerFilter, batch int, fn func(*model.Customer) error) error
	AllForUser(ctx context.Context, userID int64) ([]model.Customer, error)
	Count(ctx context.Context, userID int64) (int, error)
	Recent(ctx context.Context, userID int64, limit int) ([]model.Customer, error)
	CountByOrganization(ctx context.Context, userID int64) (map[string]int, error)
}

// ImportRepository is the scoped import job store.
type ImportRepository interface {
	Create(ctx context.Context, userID int64, imp *model.Import) error
	Update(ctx context.Context, userID int64, imp *model.Import, columns ...string) error
	Delete(ctx context.Context, userID, id int64) error
	// Transition moves imp to imp.Status only if the stored status is one of
	// from. It reports false when the stored status did not match.
	Transition(ctx context.Context, userID int64, imp *model.Import, from []model.Status, columns ...string) (bool, error)
	// UpdateProgress persists counters while the import is processing. It
	// reports false once the import left processing, e.g. when cancelled.
	UpdateProgress(ctx context.Context, userID int64, imp *model.Import) (bool, error)

	FindByID(ctx context.Context, userID, id int64) (*model.Import, error)
	AllForUser(ctx context.Context, userID int64) ([]model.Import, error)
	List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Import], error)
	Recent(ctx context.Context, userID int64, limit int) ([]model.Import, error)
	CountByStatus(ctx context.Context, userID int64) (map[model.Status]int, error)
}

// ExportRepository is the scoped export job store.
type ExportRepository interface {
	Create(ctx context.Context, userID int64, exp *model.Export) error
	Update(ctx context.Context, userID int64, exp *model.Export, columns ...string) error
	Delete(ctx context.Context, userID, id int64) error
	Transition(ctx context.Context, userID int64, exp *model.Export, from []model.Status, columns ...string) (bool, error)
	// Heartbeat touches a processing export and reports false once it left
	// processing.
	Heartbeat(ctx context.Context, userID, id int64) (bool, error)

	FindByID(ctx context.Context, userID, id int64) (*model.Export, error)
	AllForUser(ctx context.Context, userID int64) ([]model.Export, error)
	List(ctx context.Context, userID int64, page model.Page) (*model.PageResult[model.Export], error)
	Recent(ctx context.Context, userID int64, limit int) ([]model.Export, error)
	CountByStatus(ctx context.Context, userID int64) (map[model.Status]int, error)

	// FindExpired and MarkExpired serve the system wide cleanup sweep.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Export, error)
	MarkExpired(ctx context.Context, exp *model.Export) (bool, error)
}

// AuditRepository is the append only activity log.
type AuditRepository interface {
	Append(ctx context.Context, a *model.Activity) error
	Recent(ctx context.Context, userID int64, limit int) ([]model.Activity, error)
	ForSubject(ctx context.Context, userID int64, subjectType string, subjectID int64) ([]model.Activity, error)
	CountForSubject(ctx context.Context, userID int64, subjectType string, subjectID int64) (int, error)
	Between(ctx context.Context, userID int64, from, to time.Time) ([]model.Activity, error)
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Option configures a repository.
type Option func(*base)

// WithClock overrides the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(b *base) { b.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *base) { b.logger = l }
}

type base struct {
	db     bun.IDB
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func newBase(db bun.IDB, opts []Option) base {
	b := base{db: db, clock: clock.WallClock, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b base) now() time.Time {
	return b.clock.Now().UTC()
}

// checkOwner loads the owner of id from the table behind tableModel.
func (b base) checkOwner(ctx context.Context, tableModel any, entity string, userID, id int64) error {
	var owner int64
	err := b.db.NewSelect().
		Model(tableModel).
		Column("user_id").
		Where("id = ?", id).
		Limit(1).
		Scan(ctx, &owner)
	if noRows(err) {
		return NotFound(entity, id)
	}
	if err != nil {
		return err
	}
	if owner != userID {
		b.logger.Warnw("ownership violation", "entity", entity, "id", id, "user_id", userID)
		return OwnershipViolation(entity, id, userID)
	}
	return nil
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// withColumns copies columns and appends extra so callers' slices are never
// written through.
func withColumns(columns []string, extra ...string) []string {
	out := make([]string, 0, len(columns)+len(extra))
	out = append(out, columns...)
	return append(out, extra...)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > model.MaxPageSize {
		return model.MaxPageSize
	}
	return limit
}
