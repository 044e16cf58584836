package uow

import "errors"

var (
	ErrScopeAlreadyCompleted = errors.New("uow: scope already completed")
	ErrScopeAlreadyDisposed  = errors.New("uow: scope already disposed")
	// ErrIncorrectNesting is returned when a scope is completed or closed while
	// it is not the innermost active scope of its unit of work.
	ErrIncorrectNesting = errors.New("uow: incorrect scope nesting or scope used from the wrong flow")
	// ErrScopeAborted is returned by the owner's Complete when a joined scope was
	// closed without completing. Nothing is flushed.
	ErrScopeAborted    = errors.New("uow: unit of work aborted by an inner scope")
	ErrContextDisposed = errors.New("uow: unit of work already disposed")
	ErrNoUnitOfWork    = errors.New("uow: no unit of work in context")
)
