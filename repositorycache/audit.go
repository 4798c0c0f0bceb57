package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/go-crm-batch/cache"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/repository"
)

// DefaultAuditTTLs: recent activity changes often, date ranges rarely.
var DefaultAuditTTLs = TTLTable{
	"Recent":          2 * time.Minute,
	"ForSubject":      10 * time.Minute,
	"CountForSubject": 5 * time.Minute,
	"Between":         time.Hour,
}

// Audit is the cached AuditRepository. Every entry carries the shared
// audit:history tag so archiving can drop them all.
type Audit struct {
	base repository.AuditRepository
	dec  *Decorator[*model.Activity]
}

var _ repository.AuditRepository = (*Audit)(nil)

func NewAudit(base repository.AuditRepository, coord *cache.Coordinator, ttls TTLTable, opts ...Option) (*Audit, error) {
	dec, err := NewDecorator("activity", coord, DefaultAuditTTLs.Merge(ttls), func(a *model.Activity) int64 { return a.ID }, opts...)
	if err != nil {
		return nil, err
	}
	return &Audit{base: base, dec: dec}, nil
}

func (r *Audit) Append(ctx context.Context, a *model.Activity) error {
	if err := r.base.Append(ctx, a); err != nil {
		return err
	}
	r.dec.InvalidateTags(ctx,
		cache.UserTag(a.CauserID),
		cache.AuditRecentTag,
		cache.EntityTag(a.SubjectType, a.SubjectID),
	)
	return nil
}

func (r *Audit) Recent(ctx context.Context, userID int64, limit int) ([]model.Activity, error) {
	spec := ReadSpec[[]model.Activity]{
		Op:   "Recent",
		Args: []any{limit},
		Tags: []string{cache.AuditRecentTag, cache.AuditHistoryTag},
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) ([]model.Activity, error) {
		return r.base.Recent(ctx, userID, limit)
	})
}

func (r *Audit) ForSubject(ctx context.Context, userID int64, subjectType string, subjectID int64) ([]model.Activity, error) {
	spec := ReadSpec[[]model.Activity]{
		Op:   "ForSubject",
		Args: []any{subjectType, subjectID},
		Tags: []string{cache.EntityTag(subjectType, subjectID), cache.AuditHistoryTag},
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) ([]model.Activity, error) {
		return r.base.ForSubject(ctx, userID, subjectType, subjectID)
	})
}

func (r *Audit) CountForSubject(ctx context.Context, userID int64, subjectType string, subjectID int64) (int, error) {
	spec := ReadSpec[int]{
		Op:   "CountForSubject",
		Args: []any{subjectType, subjectID},
		Tags: []string{cache.EntityTag(subjectType, subjectID), cache.AuditHistoryTag},
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) (int, error) {
		return r.base.CountForSubject(ctx, userID, subjectType, subjectID)
	})
}

func (r *Audit) Between(ctx context.Context, userID int64, from, to time.Time) ([]model.Activity, error) {
	spec := ReadSpec[[]model.Activity]{
		Op:   "Between",
		Args: []any{from, to},
		Tags: []string{cache.AuditHistoryTag},
	}
	return Read(ctx, r.dec, userID, spec, func(ctx context.Context) ([]model.Activity, error) {
		return r.base.Between(ctx, userID, from, to)
	})
}

func (r *Audit) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := r.base.ArchiveBefore(ctx, cutoff)
	if n > 0 {
		r.dec.InvalidateTags(ctx, cache.AuditRecentTag, cache.AuditHistoryTag)
	}
	return n, err
}
