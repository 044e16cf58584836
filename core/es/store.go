package es

import (
	"context"
	"errors"
)

var (
	ErrStoreNoEvents = errors.New("no events to store")
)

type (
	startVersionOption valueOption[Version]

	// StoreLoadOptions is filled by StoreLoadOption values; store adapters read it.
	StoreLoadOptions struct {
		StartVersion Version
	}

	StoreLoadOption interface {
		applyToStoreLoadOptions(*StoreLoadOptions)
	}
)

// WithStartAtVersion skips events below v.
func WithStartAtVersion(v Version) StoreLoadOption { return startVersionOption{v} }

func (o startVersionOption) applyToStoreLoadOptions(l *StoreLoadOptions) { l.StartVersion = o.v }

func NewStoreLoadOptions(opts ...StoreLoadOption) StoreLoadOptions {
	var o StoreLoadOptions
	for _, opt := range opts {
		opt.applyToStoreLoadOptions(&o)
	}
	return o
}

type (
	newStreamOption valueOption[bool]

	// StoreAppendOptions is filled by StoreAppendOption values; store adapters read it.
	StoreAppendOptions struct {
		// NewStream requires the stream to have no events. The first event is
		// expectedVersion+1, so a stream may start above version 1.
		NewStream bool
	}

	StoreAppendOption interface {
		applyToStoreAppendOptions(*StoreAppendOptions)
	}
)

// WithNewStream makes Append create the stream. It conflicts when the stream
// already has events.
func WithNewStream() StoreAppendOption { return newStreamOption{true} }

func (o newStreamOption) applyToStoreAppendOptions(a *StoreAppendOptions) { a.NewStream = o.v }

func NewStoreAppendOptions(opts ...StoreAppendOption) StoreAppendOptions {
	var o StoreAppendOptions
	for _, opt := range opts {
		opt.applyToStoreAppendOptions(&o)
	}
	return o
}

type (
	StoreAppendResult struct {
		LastSeq uint64
	}

	// EventStore persists envelopes per aggregate stream.
	//
	// Load returns the stream's events in version order; a stream that does not
	// exist yields no events and no error. Append fails with an error matching
	// ErrConcurrencyConflict when the stream's last version is not
	// expectedVersion, or with WithNewStream when the stream has events. Delete removes the stream; deleting a missing stream is
	// not an error.
	EventStore interface {
		Load(ctx context.Context, aggType string, aggID string, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, aggType string, aggID string, expectedVersion Version, events []Envelope, opts ...StoreAppendOption) (*StoreAppendResult, error)
		Delete(ctx context.Context, aggType string, aggID string) error
	}
)
