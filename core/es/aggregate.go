package es

import (
	"fmt"
	"time"

	"github.com/codewandler/aggrepo-go/core/reflector"
)

// AggregateCreated is raised by BaseAggregate.Create. Every event handler map
// built for an aggregate embedding BaseAggregate handles it.
type AggregateCreated struct {
	CreatedAt time.Time `json:"created_at"`
}

func (e AggregateCreated) Validate() error {
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created at time is zero")
	}
	return nil
}

// AggregateRestored starts a new stream for an aggregate that already has
// history but no pending events, e.g. one removed and added again unchanged.
// Every event handler map handles it as a no-op.
type AggregateRestored struct {
	RestoredAt time.Time `json:"restored_at"`
}

// Aggregate is the contract between domain objects and the Repository.
//
// An aggregate carries:
//   - Identity: aggregate type plus a key of type K
//   - Version: incremented by one per raised event, zero before the first
//   - Uncommitted events: raised since the last successful flush
//
// Implementations embed BaseAggregate, which provides everything except
// GetAggType and Apply.
type Aggregate[K comparable] interface {
	GetAggType() string
	GetKey() K
	SetKey(K)

	GetVersion() Version
	setVersion(Version)

	// Apply mutates state from one event payload. It must not raise events.
	Apply(event any) error
	// Raise records payload as the next uncommitted event and advances the version.
	Raise(payload any)

	Uncommitted() []DomainEvent[K]
	ClearUncommitted()
}

// BaseAggregate is the embeddable helper that tracks key, version and
// uncommitted events.
type BaseAggregate[K comparable] struct {
	Key       K         `json:"key"`
	CreatedAt time.Time `json:"created_at"`

	version     Version
	uncommitted []DomainEvent[K]
}

func (b *BaseAggregate[K]) GetKey() K               { return b.Key }
func (b *BaseAggregate[K]) SetKey(key K)            { b.Key = key }
func (b *BaseAggregate[K]) GetVersion() Version     { return b.version }
func (b *BaseAggregate[K]) setVersion(v Version)    { b.version = v }
func (b *BaseAggregate[K]) IsCreated() bool         { return !b.CreatedAt.IsZero() }
func (b *BaseAggregate[K]) GetCreatedAt() time.Time { return b.CreatedAt }

// Create assigns key and raises AggregateCreated. The new aggregate is at version 1.
func (b *BaseAggregate[K]) Create(key K) error {
	if b.IsCreated() {
		return ErrAlreadyCreated
	}
	if isZeroKey(key) {
		return ErrEmptyKey
	}
	e := &AggregateCreated{CreatedAt: time.Now()}
	b.Key = key
	b.applyCreated(e)
	b.Raise(e)
	return nil
}

func (b *BaseAggregate[K]) applyCreated(e *AggregateCreated) { b.CreatedAt = e.CreatedAt }

func (b *BaseAggregate[K]) Raise(payload any) {
	b.version++
	b.uncommitted = append(b.uncommitted, DomainEvent[K]{
		Key:        b.Key,
		Version:    b.version,
		Type:       reflector.NameOf(payload),
		OccurredAt: time.Now(),
		Payload:    payload,
	})
}

func (b *BaseAggregate[K]) ClearUncommitted() { b.uncommitted = nil }

// Uncommitted returns a copy of the events raised since the last flush.
func (b *BaseAggregate[K]) Uncommitted() []DomainEvent[K] {
	out := make([]DomainEvent[K], len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

type createdApplier interface {
	applyCreated(*AggregateCreated)
}

// === Helpers ===

type raiseApplier interface {
	Raise(payload any)
	Apply(event any) error
}

// RaiseAndApply validates every event (if it implements Validate() error), then
// applies and raises them one by one. An event that fails to apply is not raised.
func RaiseAndApply(a raiseApplier, events ...any) error {
	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err := ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", e, err)
			}
		}
	}

	for _, e := range events {
		if err := a.Apply(e); err != nil {
			return err
		}
		a.Raise(e)
	}
	return nil
}
