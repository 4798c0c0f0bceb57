// Package jobs is a small durable job queue stored in the application
// database, and the worker runtime that drains it.
//
// Delivery is at least once. A reserved job carries a lease; if the worker
// holding it disappears the lease runs out and another worker picks the job
// up again. Handlers must therefore be safe to re-run.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// State of a queued job.
type State string

const (
	StateQueued   State = "queued"
	StateReserved State = "reserved"
	StateDone     State = "done"
	StateDead     State = "dead"
)

// Job is one unit of work.
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk" json:"id"`
	Kind        string     `bun:"kind,notnull" json:"kind"`
	Payload     []byte     `bun:"payload,notnull" json:"payload"`
	State       State      `bun:"state,notnull" json:"state"`
	Attempts    int        `bun:"attempts,notnull" json:"attempts"`
	MaxAttempts int        `bun:"max_attempts,notnull" json:"max_attempts"`
	AvailableAt time.Time  `bun:"available_at,notnull" json:"available_at"`
	LeaseUntil  *time.Time `bun:"lease_until,nullzero" json:"lease_until,omitempty"`
	LastError   string     `bun:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Migrate creates the jobs table.
func Migrate(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*Job)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().
		Model((*Job)(nil)).
		Index("jobs_state_available_idx").
		Column("state", "available_at").
		IfNotExists().
		Exec(ctx)
	return err
}

// Queue stores jobs in a bun database.
type Queue struct {
	db          bun.IDB
	clock       clock.Clock
	logger      *zap.SugaredLogger
	lease       time.Duration
	maxAttempts int
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

func WithQueueClock(c clock.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

func WithQueueLogger(l *zap.SugaredLogger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithLease sets how long a reservation lasts before the job is handed out again.
func WithLease(d time.Duration) QueueOption {
	return func(q *Queue) { q.lease = d }
}

// WithDefaultMaxAttempts sets the attempt budget of jobs enqueued without one.
func WithDefaultMaxAttempts(n int) QueueOption {
	return func(q *Queue) { q.maxAttempts = n }
}

func NewQueue(db bun.IDB, opts ...QueueOption) *Queue {
	q := &Queue{
		db:          db,
		clock:       clock.WallClock,
		logger:      zap.NewNop().Sugar(),
		lease:       15 * time.Minute,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.lease <= 0 {
		q.lease = 15 * time.Minute
	}
	return q
}

// Lease is how long a reservation lasts.
func (q *Queue) Lease() time.Duration { return q.lease }

func (q *Queue) now() time.Time { return q.clock.Now().UTC() }

// EnqueueOption adjusts a single job.
type EnqueueOption func(*Job)

// MaxAttempts overrides the attempt budget.
func MaxAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// Delay postpones the first attempt.
func Delay(d time.Duration) EnqueueOption {
	return func(j *Job) { j.AvailableAt = j.AvailableAt.Add(d) }
}

// Enqueue stores a job of kind whose payload is the JSON encoding of payload.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts ...EnqueueOption) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "encode job payload")
	}
	now := q.now()
	job := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		State:       StateQueued,
		MaxAttempts: q.maxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(job)
	}
	if _, err := q.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "enqueue job")
	}
	q.logger.Debugw("job enqueued", "job_id", job.ID, "kind", kind)
	return job, nil
}

// Reserve leases the next due job. It returns nil when nothing is due.
func (q *Queue) Reserve(ctx context.Context) (*Job, error) {
	for tries := 0; tries < 3; tries++ {
		now := q.now()
		candidate := new(Job)
		err := q.db.NewSelect().
			Model(candidate).
			WhereGroup(" AND ", func(s *bun.SelectQuery) *bun.SelectQuery {
				return s.WhereGroup(" OR ", func(s *bun.SelectQuery) *bun.SelectQuery {
					return s.Where("state = ?", StateQueued).Where("available_at <= ?", now)
				}).WhereGroup(" OR ", func(s *bun.SelectQuery) *bun.SelectQuery {
					return s.Where("state = ?", StateReserved).Where("lease_until <= ?", now)
				})
			}).
			Order("available_at ASC").
			Limit(1).
			Scan(ctx)
		if isNoRows(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		lease := now.Add(q.lease)
		res, err := q.db.NewUpdate().
			Model((*Job)(nil)).
			Set("state = ?", StateReserved).
			Set("lease_until = ?", lease).
			Set("attempts = attempts + 1").
			Set("updated_at = ?", now).
			Where("id = ?", candidate.ID).
			Where("state = ?", candidate.State).
			Where("attempts = ?", candidate.Attempts).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// another worker won the race
			continue
		}
		candidate.State = StateReserved
		candidate.LeaseUntil = &lease
		candidate.Attempts++
		candidate.UpdatedAt = now
		return candidate, nil
	}
	return nil, nil
}

// Complete marks job done.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	return q.settle(ctx, job, StateDone, job.AvailableAt, "")
}

// Retry requeues job after delay and records cause.
func (q *Queue) Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	return q.settle(ctx, job, StateQueued, q.now().Add(delay), errorText(cause))
}

// Bury marks job dead; it is never attempted again.
func (q *Queue) Bury(ctx context.Context, job *Job, cause error) error {
	return q.settle(ctx, job, StateDead, job.AvailableAt, errorText(cause))
}

func (q *Queue) settle(ctx context.Context, job *Job, state State, availableAt time.Time, lastError string) error {
	job.State = state
	job.AvailableAt = availableAt
	job.LeaseUntil = nil
	if lastError != "" {
		job.LastError = lastError
	}
	job.UpdatedAt = q.now()
	_, err := q.db.NewUpdate().
		Model(job).
		Column("state", "available_at", "lease_until", "last_error", "updated_at").
		WherePK().
		Where("state = ?", StateReserved).
		Exec(ctx)
	return err
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	job := new(Job)
	if err := q.db.NewSelect().Model(job).Where("id = ?", id).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, goerrors.New("job "+id+" not found", goerrors.CategoryNotFound)
		}
		return nil, err
	}
	return job, nil
}

// Stats counts jobs per state.
func (q *Queue) Stats(ctx context.Context) (map[State]int, error) {
	var rows []struct {
		State State `bun:"state"`
		Total int   `bun:"total"`
	}
	err := q.db.NewSelect().
		Model((*Job)(nil)).
		Column("state").
		ColumnExpr("COUNT(*) AS total").
		Group("state").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[State]int, len(rows))
	for _, r := range rows {
		out[r.State] = r.Total
	}
	return out, nil
}

// Purge deletes finished jobs last touched before cutoff.
func (q *Queue) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := q.db.NewDelete().
		Model((*Job)(nil)).
		Where("state IN (?)", bun.In([]State{StateDone, StateDead})).
		Where("updated_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
