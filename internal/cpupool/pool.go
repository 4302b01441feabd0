// Package cpupool bounds the CPU spent on 1536-bit modular exponentiation.
// Each verify costs two big exponentiations at 100–300ms apiece; without a
// bound, a burst of verifies would commandeer every core and starve the I/O
// path. The pool runs a fixed set of workers over a deep queue and rejects
// work outright once the queue is full: back-pressure, not unbounded growth.
package cpupool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// ErrSaturated is returned when the queue is full. Callers surface it as a
// dependency failure, not an authentication outcome.
var ErrSaturated = errors.New("cpu pool saturated")

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("cpu pool closed")

// DefaultQueueCapacity absorbs bursts without letting memory grow unbounded.
const DefaultQueueCapacity = 100_000

type job struct {
	task func()
	done chan struct{}
}

// Pool is a fixed-size worker pool for CPU-bound tasks.
type Pool struct {
	queue   chan job
	workers int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a pool. Non-positive workers defaults to runtime.NumCPU();
// non-positive queueCap defaults to DefaultQueueCapacity.
func New(workers, queueCap int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}

	p := &Pool{
		queue:   make(chan job, queueCap),
		workers: workers,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	slog.Info("CPU pool started", "workers", workers, "queue_capacity", queueCap)
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		j.task()
		close(j.done)
	}
}

// Do submits task and blocks until it has run. A full queue fails immediately
// with ErrSaturated. Cancellation is honoured while the task is still queued;
// once a worker has picked it up the task runs to completion (the work is
// pure computation and cannot be interrupted mid-exponentiation).
func (p *Pool) Do(ctx context.Context, task func()) error {
	j := job{task: task, done: make(chan struct{})}

	// The lock spans the enqueue so Close cannot shut the channel between the
	// closed check and the send. The send is non-blocking, so the lock is held
	// only briefly.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	select {
	case p.queue <- j:
		p.mu.Unlock()
	default:
		depth := len(p.queue)
		p.mu.Unlock()
		return fmt.Errorf("queue full (%d pending): %w", depth, ErrSaturated)
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		// The job may still run; the caller just stops waiting.
		return ctx.Err()
	}
}

// QueueDepth reports how many tasks are waiting; exported as a gauge.
func (p *Pool) QueueDepth() int { return len(p.queue) }

// Workers reports the pool size.
func (p *Pool) Workers() int { return p.workers }

// Close drains the queue and stops the workers. Subsequent Do calls fail with
// ErrClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
