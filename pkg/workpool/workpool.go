// Package workpool runs submitted tasks on a fixed number of goroutines.
//
// A failing or panicking task only affects its own Result; the pool keeps
// going until every submitted task has settled.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultLimit is the number of workers used when a non-positive limit is given.
const DefaultLimit = 10

// ErrClosed is returned by Submit after Wait has been called.
var ErrClosed = errors.New("workpool: submit after wait")

// Task is one unit of work.
type Task[R any] func(ctx context.Context) (R, error)

// Result is the settled state of one task.
type Result[R any] struct {
	// Index is the submission order, starting at zero.
	Index int
	Value R
	Err   error
}

type job[R any] struct {
	index int
	ctx   context.Context
	task  Task[R]
}

// Pool executes tasks with at most Limit running at once.
type Pool[R any] struct {
	limit int
	jobs  chan job[R]
	wg    sync.WaitGroup

	// sendMu is held shared while sending and exclusively while closing jobs.
	sendMu sync.RWMutex
	closed bool

	mu       sync.Mutex
	results  []Result[R]
	next     int
	onResult func(Result[R])

	active atomic.Int64
	peak   atomic.Int64
}

// Option customizes a Pool.
type Option[R any] func(*Pool[R])

// WithResultHook calls fn from the worker goroutine as soon as a task
// settles. fn must be safe for concurrent use.
func WithResultHook[R any](fn func(Result[R])) Option[R] {
	return func(p *Pool[R]) { p.onResult = fn }
}

// New starts limit workers. A limit below one falls back to DefaultLimit.
func New[R any](limit int, opts ...Option[R]) *Pool[R] {
	if limit < 1 {
		limit = DefaultLimit
	}
	p := &Pool[R]{
		limit: limit,
		jobs:  make(chan job[R]),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(limit)
	for range limit {
		go p.worker()
	}
	return p
}

// Limit returns the configured worker count.
func (p *Pool[R]) Limit() int { return p.limit }

// Submit hands task to a free worker, blocking while all workers are busy.
// The task runs with ctx. If ctx ends before a worker is free the task is
// not run and ctx's error is returned.
func (p *Pool[R]) Submit(ctx context.Context, task Task[R]) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.mu.Lock()
	idx := p.next
	p.next++
	p.mu.Unlock()

	select {
	case p.jobs <- job[R]{index: idx, ctx: ctx, task: task}:
		return nil
	case <-ctx.Done():
		// Keep indices dense so Wait's ordering stays meaningful.
		p.record(Result[R]{Index: idx, Err: ctx.Err()})
		return ctx.Err()
	}
}

// Wait stops accepting tasks, blocks until every submitted task has
// settled and returns the results in submission order.
func (p *Pool[R]) Wait() []Result[R] {
	p.sendMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.sendMu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	ordered := make([]Result[R], len(p.results))
	for _, r := range p.results {
		ordered[r.Index] = r
	}
	return ordered
}

// ActivePeak reports the highest number of tasks that ran at the same time.
func (p *Pool[R]) ActivePeak() int { return int(p.peak.Load()) }

func (p *Pool[R]) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.record(p.run(j))
	}
}

func (p *Pool[R]) run(j job[R]) (res Result[R]) {
	res.Index = j.index

	n := p.active.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %d panicked: %v", j.index, r)
		}
	}()

	res.Value, res.Err = j.task(j.ctx)
	return res
}

func (p *Pool[R]) record(r Result[R]) {
	p.mu.Lock()
	p.results = append(p.results, r)
	p.mu.Unlock()
	if p.onResult != nil {
		p.onResult(r)
	}
}
