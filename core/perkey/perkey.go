// Package perkey serializes work per key while work for different keys runs
// concurrently.
//
// The demo uses it to run the commands of one account one after another, so
// that concurrent units of work on the same aggregate do not keep failing with
// concurrency conflicts.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("perkey: scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task buffer size per worker (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler runs tasks such that tasks of one key execute sequentially in
// submission order. A key's worker goroutine exits once its queue is empty.
type Scheduler[K comparable] struct {
	bufferSize int

	mu      sync.Mutex
	workers map[K]*worker
	closed  bool
	wg      sync.WaitGroup // in-flight DoContext calls
}

type worker struct {
	tasks chan *task
	// pending counts tasks submitted but not yet finished or abandoned.
	pending int
}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do runs fn for key and returns its error.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, func(context.Context) error { return fn() })
}

// DoContext runs fn for key with ctx. If ctx ends before fn is queued, fn never
// runs; if it ends while fn is queued or running, DoContext returns ctx.Err()
// and fn still runs.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	defer s.wg.Done()
	w := s.workerLocked(key)
	w.pending++
	s.mu.Unlock()

	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case w.tasks <- t:
	case <-ctx.Done():
		s.abandon(key, w)
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of keys with a running worker.
func (s *Scheduler[K]) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting tasks. It waits for in-flight calls; queued tasks
// still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler[K]) workerLocked(key K) *worker {
	if w, ok := s.workers[key]; ok {
		return w
	}
	w := &worker{tasks: make(chan *task, s.bufferSize)}
	s.workers[key] = w
	go s.run(key, w)
	return w
}

// run executes the tasks of one key and exits when none are pending.
func (s *Scheduler[K]) run(key K, w *worker) {
	for t := range w.tasks {
		t.done <- t.fn(t.ctx)
		if s.release(key, w) {
			return
		}
	}
}

// abandon releases a task that was never queued. The last release of an idle
// worker closes its queue so the worker exits.
func (s *Scheduler[K]) abandon(key K, w *worker) {
	if s.release(key, w) {
		close(w.tasks)
	}
}

// release decrements the pending count and reports whether the worker is now
// idle and was removed.
func (s *Scheduler[K]) release(key K, w *worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.pending--; w.pending > 0 {
		return false
	}
	if s.workers[key] == w {
		delete(s.workers, key)
	}
	return true
}
