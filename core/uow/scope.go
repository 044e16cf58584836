package uow

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scope is one Begin/Close bracket of a unit of work.
type Scope struct {
	c         *Context
	owner     bool
	completed bool
	disposed  bool
	startedAt time.Time
}

// Begin starts a scope. If ctx already carries a live unit of work the scope
// joins it; otherwise a new unit of work is created, the scope becomes its owner
// and the returned context carries it.
func Begin(ctx context.Context, opts ...Option) (context.Context, *Scope) {
	for {
		if c := Current(ctx); c != nil {
			if s, ok := c.pushScope(false); ok {
				return ctx, s
			}
			// disposed in between; start fresh
			continue
		}

		c := newContext(newOptions(opts...))
		s, _ := c.pushScope(true)
		return context.WithValue(ctx, ctxKey{}, c), s
	}
}

func (s *Scope) IsOwner() bool     { return s.owner }
func (s *Scope) Context() *Context { return s.c }

// Complete marks the scope as successfully finished. For the owner scope this
// flushes every enlisted unit of work in enlistment order; the first flush error
// stops the flush and is returned. Complete may be called once.
func (s *Scope) Complete(ctx context.Context) (err error) {
	c := s.c

	c.mu.Lock()
	switch {
	case s.disposed:
		c.mu.Unlock()
		return ErrScopeAlreadyDisposed
	case s.completed:
		c.mu.Unlock()
		return ErrScopeAlreadyCompleted
	}
	if n := len(c.scopes); n == 0 || c.scopes[n-1] != s {
		c.mu.Unlock()
		return ErrIncorrectNesting
	}
	s.completed = true
	if !s.owner {
		c.mu.Unlock()
		return nil
	}
	aborted := c.aborted
	c.mu.Unlock()

	if aborted {
		c.metrics.Completed(false)
		c.log.Debug("complete refused, unit of work aborted")
		return ErrScopeAborted
	}

	defer func() {
		c.metrics.Completed(err == nil)
		if err != nil {
			c.log.Debug("flush failed", slog.Any("error", err))
		}
	}()
	return c.flush(ctx)
}

// Close ends the scope. Closing a joined scope that was not completed aborts the
// unit of work. Closing the owner disposes the unit of work: Current no longer
// returns it, io.Closer items are closed and Discarder units are discarded.
func (s *Scope) Close() error {
	c := s.c

	c.mu.Lock()
	if s.disposed {
		c.mu.Unlock()
		return ErrScopeAlreadyDisposed
	}
	n := len(c.scopes)
	if n == 0 || c.scopes[n-1] != s {
		c.mu.Unlock()
		return ErrIncorrectNesting
	}
	c.scopes = c.scopes[:n-1]
	s.disposed = true
	if !s.completed && !c.aborted {
		c.aborted = true
		c.metrics.Aborted()
		c.log.Debug("scope closed without completing", slog.Bool("owner", s.owner))
	}
	if !s.owner {
		c.mu.Unlock()
		return nil
	}

	c.disposed = true
	keys, items, enlisted := c.itemKeys, c.items, c.enlisted
	c.itemKeys, c.items, c.enlisted = nil, map[any]any{}, nil
	c.mu.Unlock()

	c.log.Debug("closing", slog.Duration("duration", time.Since(s.startedAt)))
	return c.dispose(keys, items, enlisted)
}

// Do runs fn inside a scope: fn's error skips Complete, and Close runs on every
// path. Errors from fn, Complete and Close are joined.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) (err error) {
	ctx, scope := Begin(ctx, opts...)
	defer func() {
		err = errors.Join(err, scope.Close())
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	return scope.Complete(ctx)
}
