package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-crm-batch/internal/metrics"
)

// Handler runs one attempt of a job.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// FailureHandler is implemented by handlers that want to hear about a job
// that will not be attempted again.
type FailureHandler interface {
	Failed(ctx context.Context, payload []byte, err error)
}

// Config tunes the runner.
type Config struct {
	Workers        int           `koanf:"workers"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	Lease          time.Duration `koanf:"lease"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
}

func DefaultConfig() Config {
	return Config{
		Workers:        2,
		PollInterval:   time.Second,
		Timeout:        10 * time.Minute,
		MaxAttempts:    3,
		Lease:          15 * time.Minute,
		BackoffInitial: 10 * time.Second,
		BackoffMax:     5 * time.Minute,
	}
}

// Runner reserves jobs from a Queue and dispatches them by kind.
type Runner struct {
	queue  *Queue
	cfg    Config
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

func WithLogger(l *zap.SugaredLogger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(queue *Queue, cfg Config, opts ...RunnerOption) *Runner {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	r := &Runner{
		queue:    queue,
		cfg:      cfg,
		clock:    clock.WallClock,
		logger:   zap.NewNop().Sugar(),
		handlers: map[string]Handler{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if queue != nil && r.cfg.Timeout >= queue.lease {
		// an attempt must end before its reservation can be handed out again
		clamped := queue.lease - queue.lease/10
		r.logger.Warnw("job timeout not below the queue lease, clamping",
			"timeout", r.cfg.Timeout, "lease", queue.lease, "clamped", clamped)
		r.cfg.Timeout = clamped
	}
	return r
}

// Timeout is the per-attempt limit in effect.
func (r *Runner) Timeout() time.Duration { return r.cfg.Timeout }

// Register binds kind to h, replacing any previous handler.
func (r *Runner) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Runner) handler(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Run starts the workers and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return r.work(ctx, worker)
		})
	}
	r.logger.Infow("job runner started", "workers", r.cfg.Workers)
	err := g.Wait()
	r.logger.Infow("job runner stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) work(ctx context.Context, worker int) error {
	log := r.logger.With("worker", worker)
	for {
		processed, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorw("job cycle failed", "err", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.cfg.PollInterval):
		}
	}
}

// Drain processes due jobs until none are left and returns how many ran.
func (r *Runner) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		processed, err := r.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
}

// RunOnce reserves and processes at most one job.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.queue.Reserve(ctx)
	if err != nil || job == nil {
		return false, err
	}
	return true, r.process(ctx, job)
}

func (r *Runner) process(ctx context.Context, job *Job) error {
	log := r.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)

	h, ok := r.handler(job.Kind)
	if !ok {
		log.Errorw("no handler registered, burying job")
		metrics.JobAttempts.WithLabelValues(job.Kind, "buried").Inc()
		return r.queue.Bury(ctx, job, fmt.Errorf("no handler for %s", job.Kind))
	}

	if job.MaxAttempts > 0 && job.Attempts > job.MaxAttempts {
		// the lease of the final attempt ran out
		cause := goerrors.New("attempts exhausted after lost lease", goerrors.CategoryOperation)
		return r.fail(ctx, log, h, job, cause)
	}

	start := r.clock.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	err := safeHandle(attemptCtx, h, job.Payload)
	cancel()
	metrics.JobDuration.WithLabelValues(job.Kind).Observe(r.clock.Now().Sub(start).Seconds())

	if ctx.Err() != nil {
		// shutting down: keep the reservation, the lease hands it out again
		log.Warnw("job interrupted by shutdown", "err", err)
		return ctx.Err()
	}

	if err == nil {
		metrics.JobAttempts.WithLabelValues(job.Kind, "completed").Inc()
		log.Infow("job completed")
		return r.queue.Complete(ctx, job)
	}

	if Retryable(err) && job.Attempts < job.MaxAttempts {
		delay := r.backoffFor(job.Attempts)
		metrics.JobAttempts.WithLabelValues(job.Kind, "retried").Inc()
		log.Warnw("job failed, retrying", "err", err, "delay", delay)
		return r.queue.Retry(ctx, job, delay, err)
	}
	return r.fail(ctx, log, h, job, err)
}

func (r *Runner) fail(ctx context.Context, log *zap.SugaredLogger, h Handler, job *Job, cause error) error {
	metrics.JobAttempts.WithLabelValues(job.Kind, "buried").Inc()
	log.Errorw("job failed permanently", "err", cause)
	if err := r.queue.Bury(ctx, job, cause); err != nil {
		return err
	}
	if fh, ok := h.(FailureHandler); ok {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Errorw("failure callback panicked", "panic", p)
				}
			}()
			fh.Failed(ctx, job.Payload, cause)
		}()
	}
	return nil
}

// backoffFor returns the delay after the given attempt: initial, then
// doubling up to BackoffMax.
func (r *Runner) backoffFor(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BackoffInitial
	b.MaxInterval = r.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func safeHandle(ctx context.Context, h Handler, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = goerrors.New(fmt.Sprintf("job panicked: %v", p), goerrors.CategoryInternal).
				WithMetadata(map[string]any{"stack": string(debug.Stack())})
		}
	}()
	return h.Handle(ctx, payload)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string     { return e.err.Error() }
func (e permanentError) Unwrap() error     { return e.err }
func (e permanentError) IsRetryable() bool { return false }

// Retryable reports whether err should lead to another attempt. Errors are
// retryable unless they say otherwise through IsRetryable, as Permanent
// errors and go-errors RetryableError values do.
func Retryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
