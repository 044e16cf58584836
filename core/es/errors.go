package es

import (
	"errors"
	"fmt"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrEmptyKey            = errors.New("aggregate key is empty")
	ErrAlreadyCreated      = errors.New("aggregate already created")

	// ErrUnitOfWorkFailed is returned by every call on a repository whose
	// flush failed. The unit of work must be discarded and retried from scratch.
	ErrUnitOfWorkFailed  = errors.New("unit of work failed")
	ErrForeignUnitOfWork = errors.New("repository is enlisted in another unit of work")

	ErrReconstruction         = errors.New("reconstruction failed")
	ErrMismatchedAggregateKey = errors.New("mismatched aggregate key")
	ErrDuplicateVersion       = errors.New("duplicate version")
	ErrEventPrecedesSnapshot  = errors.New("event precedes snapshot")
	ErrMissingEventHandler    = errors.New("missing event handler")
	ErrMissingSnapshot        = errors.New("missing snapshot")
	ErrNoAggregateFactory     = errors.New("no aggregate factory")
)

// NotFoundError reports a lookup miss. It matches ErrAggregateNotFound.
type NotFoundError[K comparable] struct {
	AggType string
	Key     K
}

func (e *NotFoundError[K]) Error() string {
	return fmt.Sprintf("%s %s: %s", e.AggType, KeyString(e.Key), ErrAggregateNotFound)
}

func (e *NotFoundError[K]) Is(target error) bool { return target == ErrAggregateNotFound }

// DuplicateKeyError reports an Add of a second instance under a tracked key,
// or an insert of a key that already exists in storage. It matches ErrDuplicateKey.
type DuplicateKeyError[K comparable] struct {
	AggType string
	Key     K
}

func (e *DuplicateKeyError[K]) Error() string {
	return fmt.Sprintf("%s %s: %s", e.AggType, KeyString(e.Key), ErrDuplicateKey)
}

func (e *DuplicateKeyError[K]) Is(target error) bool { return target == ErrDuplicateKey }

// ConcurrencyConflictError reports a lost update: the stored version no longer
// matched Expected when the update was issued. It matches ErrConcurrencyConflict.
type ConcurrencyConflictError[K comparable] struct {
	AggType  string
	Key      K
	Expected Version
}

func (e *ConcurrencyConflictError[K]) Error() string {
	return fmt.Sprintf("%s %s: %s (expected version %d)", e.AggType, KeyString(e.Key), ErrConcurrencyConflict, e.Expected)
}

func (e *ConcurrencyConflictError[K]) Is(target error) bool { return target == ErrConcurrencyConflict }

// PartialFlushError is returned when a flush failed after some writes were
// already issued against a driver without transactional writes. Storage is
// left with Writes of the flush applied.
type PartialFlushError struct {
	AggType string
	Writes  int
	Entries int
	Err     error
}

func (e *PartialFlushError) Error() string {
	return fmt.Sprintf("partial flush of %s: %d writes issued for %d entries: %v", e.AggType, e.Writes, e.Entries, e.Err)
}

func (e *PartialFlushError) Unwrap() error { return e.Err }

func reconstructionError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrReconstruction, kind, fmt.Sprintf(format, args...))
}
