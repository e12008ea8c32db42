// Package scheduler runs background tasks on a bounded in-process queue
// drained by a fixed pool of workers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = eris.New("scheduler: queue full")
	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = eris.New("scheduler: stopped")
)

// Defaults.
const (
	DefaultConcurrency = 4
	DefaultQueueSize   = 64
)

// Task is a unit of background work. Run receives a context that is
// cancelled when the runner shuts down.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner is a fixed-size worker pool over a bounded queue.
type Runner struct {
	concurrency int
	queue       chan Task

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}

	inFlight atomic.Int64
}

// New creates a runner. Non-positive sizes fall back to the defaults.
func New(concurrency, queueSize int) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Runner{
		concurrency: concurrency,
		queue:       make(chan Task, queueSize),
		done:        make(chan struct{}),
	}
}

// Start launches the workers. Tasks run under a context derived from ctx.
// Calling Start more than once has no effect.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.group = new(errgroup.Group)
	for i := 0; i < r.concurrency; i++ {
		r.group.Go(func() error {
			r.work(i)
			return nil
		})
	}
	go func() {
		r.group.Wait() //nolint:errcheck
		close(r.done)
	}()
	zap.L().Info("scheduler: started", zap.Int("workers", r.concurrency), zap.Int("queue_size", cap(r.queue)))
}

// Submit enqueues t without blocking.
func (r *Runner) Submit(t Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrStopped
	}
	select {
	case r.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (r *Runner) Pending() int {
	return len(r.queue)
}

// InFlight returns the number of tasks currently running.
func (r *Runner) InFlight() int {
	return int(r.inFlight.Load())
}

// Shutdown stops accepting tasks, cancels the task context and waits for
// the workers to drain or for ctx to expire. Tasks still queued run with
// an already-cancelled context.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}
	r.cancel()

	select {
	case <-r.done:
		zap.L().Info("scheduler: stopped")
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "scheduler: shutdown")
	}
}

func (r *Runner) work(id int) {
	log := zap.L().With(zap.Int("worker", id))
	for t := range r.queue {
		r.inFlight.Add(1)
		if err := r.run(t); err != nil {
			log.Error("scheduler: task failed", zap.String("task", t.Name), zap.Error(err))
		}
		r.inFlight.Add(-1)
	}
}

// run executes t, converting a panic into an error.
func (r *Runner) run(t Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.New(fmt.Sprintf("scheduler: task %s panicked: %v", t.Name, rec))
		}
	}()
	return t.Run(r.ctx)
}
