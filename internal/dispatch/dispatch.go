// Package dispatch runs fire-and-forget tasks on a bounded worker pool.
// Submitting never blocks: when the queue is full the task is dropped and
// logged. Task errors and panics are logged and never returned to the
// submitter.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/beacon/pkg/logging"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Dispatcher accepts tasks without waiting for them to run.
type Dispatcher interface {
	// Submit enqueues task and reports whether it was accepted.
	Submit(name string, task Task) bool
}

// Stats counts task outcomes.
type Stats struct {
	Submitted uint64 `json:"submitted" yaml:"submitted"`
	Completed uint64 `json:"completed" yaml:"completed"`
	Failed    uint64 `json:"failed" yaml:"failed"`
	Dropped   uint64 `json:"dropped" yaml:"dropped"`
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of workers.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithTimeout bounds each task's run time.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

type job struct {
	name string
	task Task
}

// Pool is a Dispatcher backed by a fixed set of workers.
type Pool struct {
	logger    *zerolog.Logger
	workers   int
	queueSize int
	timeout   time.Duration

	mu     sync.RWMutex
	queue  chan job
	closed bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a pool. Call Run to start the workers.
func New(logger *zerolog.Logger, opts ...Option) *Pool {
	p := &Pool{
		logger:    logging.Component(logger, "dispatch"),
		workers:   4,
		queueSize: 256,
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan job, p.queueSize)
	return p
}

// Submit enqueues task. It returns false if the pool is closed or full.
func (p *Pool) Submit(name string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		p.logger.Debug().Str("task", name).Msg("Dispatcher closed, task dropped")
		return false
	}

	select {
	case p.queue <- job{name: name, task: task}:
		p.submitted.Add(1)
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn().Str("task", name).Int("queue_size", p.queueSize).Msg("Dispatcher queue full, task dropped")
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled or Close is
// called. Queued tasks are drained before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	// Tasks outlive cancellation of ctx so the queue can drain.
	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := range p.workers {
		g.Go(func() error {
			p.work(taskCtx, i)
			return nil
		})
	}

	stop := context.AfterFunc(ctx, p.Close)
	defer stop()

	p.logger.Debug().Int("workers", p.workers).Msg("Dispatcher started")
	err := g.Wait()
	p.logger.Debug().
		Uint64("completed", p.completed.Load()).
		Uint64("failed", p.failed.Load()).
		Msg("Dispatcher stopped")
	return err
}

// Close stops accepting tasks. Workers exit once the queue is empty.
// Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Stats returns a snapshot of task counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	for j := range p.queue {
		if err := p.execute(ctx, j); err != nil {
			p.failed.Add(1)
			p.logger.Warn().Err(err).Str("task", j.name).Int("worker", id).Msg("Task failed")
			continue
		}
		p.completed.Add(1)
	}
}

func (p *Pool) execute(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return run(ctx, j.task)
}

// run calls task, converting a panic into an error.
func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Inline runs tasks synchronously on the submitting goroutine. Failures
// are logged and dropped like the pool's.
type Inline struct {
	Logger *zerolog.Logger
}

// Submit runs task immediately and always returns true.
func (d Inline) Submit(name string, task Task) bool {
	if err := run(context.Background(), task); err != nil {
		logger := d.Logger
		if logger == nil {
			logger = logging.Default()
		}
		logger.Warn().Err(err).Str("task", name).Msg("Task failed")
	}
	return true
}
