package audit

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/model"
)

// Publisher accepts domain events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Appender is the write side of the activity log.
type Appender interface {
	Append(ctx context.Context, a *model.Activity) error
}

// Recorder writes events straight to the activity log.
type Recorder struct {
	log    Appender
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewRecorder(log Appender, clk clock.Clock, logger *zap.SugaredLogger) *Recorder {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{log: log, clock: clk, logger: logger}
}

// Record converts e and appends it.
func (r *Recorder) Record(ctx context.Context, e Event) (*model.Activity, error) {
	a, err := ToActivity(e, r.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := r.log.Append(ctx, a); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "append activity")
	}
	return a, nil
}

// Publish records e synchronously.
func (r *Recorder) Publish(ctx context.Context, e Event) error {
	_, err := r.Record(ctx, e)
	return err
}

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = goerrors.New("audit dispatcher closed", goerrors.CategoryOperation)

// Dispatcher publishes events through a Recorder, either inline or from a
// buffered queue drained by one goroutine.
type Dispatcher struct {
	recorder *Recorder
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

var (
	_ Publisher = (*Dispatcher)(nil)
	_ Publisher = (*Recorder)(nil)
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAsync queues up to buffer events and writes them in the background.
func WithAsync(buffer int) DispatcherOption {
	return func(d *Dispatcher) {
		if buffer <= 0 {
			buffer = 1
		}
		d.queue = make(chan Event, buffer)
	}
}

func NewDispatcher(recorder *Recorder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{recorder: recorder, logger: recorder.logger}
	for _, opt := range opts {
		opt(d)
	}
	if d.queue != nil {
		d.done = make(chan struct{})
		go d.run()
	}
	return d
}

// Async reports whether events are written in the background.
func (d *Dispatcher) Async() bool { return d.queue != nil }

// Publish records e. In async mode it only waits for queue space.
func (d *Dispatcher) Publish(ctx context.Context, e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if d.queue == nil {
		return d.recorder.Publish(ctx, e)
	}
	select {
	case d.queue <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		// queued events outlive the request that raised them
		if _, err := d.recorder.Record(context.Background(), e); err != nil {
			d.logger.Errorw("audit write failed", "event", e, "err", err)
		}
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.queue != nil {
		close(d.queue)
	}
	d.mu.Unlock()

	if d.done == nil {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
