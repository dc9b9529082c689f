// Package workerpool runs jobs on a fixed number of long-lived goroutines
// that share one FIFO queue.
package workerpool

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/laj3/laj3/internal/queue"
)

var (
	ErrPoolClosed  = errors.New("worker pool closed")
	ErrQueueFull   = errors.New("worker pool queue full")
	ErrInvalidSize = errors.New("worker pool size must be positive")
)

// Job is one unit of work. Its outcome is not reported back to the submitter.
type Job func()

// Pool is a fixed set of workers consuming a shared job queue.
type Pool struct {
	size   int
	queue  queue.Queue[Job]
	wg     sync.WaitGroup
	once   sync.Once
	active atomic.Int64
	done   atomic.Int64
	panics atomic.Int64
}

type Option func(*Pool)

// WithQueueSize bounds the queue. Execute fails with ErrQueueFull once
// capacity jobs are waiting. Zero keeps the queue unbounded.
func WithQueueSize(capacity int) Option {
	return func(p *Pool) {
		if capacity > 0 {
			p.queue = queue.NewBounded[Job](capacity)
		}
	}
}

// New starts size workers.
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	p := &Pool{size: size}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue == nil {
		p.queue = queue.NewUnbounded[Job]()
	}

	p.wg.Add(size)
	for id := 0; id < size; id++ {
		go p.worker(id)
	}

	slog.Debug("worker pool start", "workers", size)
	return p, nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.queue.Out() {
		slog.Debug("worker got a job", "worker", id)
		p.run(id, job)
	}

	slog.Debug("worker stopped", "worker", id)
}

func (p *Pool) run(id int, job Job) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.done.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			slog.Error("worker job panic", "worker", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job()
}

// Execute enqueues job and returns without waiting for it.
func (p *Pool) Execute(job Job) error {
	if job == nil {
		return nil
	}
	if err := p.queue.Push(job); err != nil {
		switch {
		case errors.Is(err, queue.ErrFull):
			return ErrQueueFull
		case errors.Is(err, queue.ErrClosed):
			return ErrPoolClosed
		default:
			return err
		}
	}
	return nil
}

// Close stops intake and blocks until queued jobs have run and every worker
// has exited. Running jobs are not interrupted.
func (p *Pool) Close() {
	p.once.Do(func() {
		slog.Debug("worker pool shutting down", "workers", p.size, "pending", p.queue.Len())
		p.queue.Close()
	})
	p.wg.Wait()
}

func (p *Pool) Size() int {
	return p.size
}

// Stats is a point in time snapshot of the pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Pending   int   `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.size,
		Pending:   p.queue.Len(),
		Active:    p.active.Load(),
		Completed: p.done.Load(),
		Panics:    p.panics.Load(),
	}
}
