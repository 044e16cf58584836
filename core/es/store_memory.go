package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryStore is an optimistic event store for tests and development.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     uint64
	streams map[string][]Envelope
}

func NewInMemoryStore(opts ...StoreOption) *InMemoryStore {
	o := newStoreOptions(opts...)
	return &InMemoryStore{
		log:     o.log.With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
	}
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType,
	aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	loadOpts := NewStoreLoadOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[snapshotKey(aggType, aggID)]
	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version < loadOpts.StartVersion {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType string,
	aggID string,
	expectVersion Version,
	events []Envelope,
	opts ...StoreAppendOption,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk         = snapshotKey(aggType, aggID)
		curStream  = s.streams[sk]
		curVersion Version
	)
	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].Version
	}
	if NewStoreAppendOptions(opts...).NewStream {
		if len(curStream) > 0 {
			return nil, fmt.Errorf("%w: %s exists at version %d", ErrConcurrencyConflict, sk, curVersion)
		}
	} else if curVersion != expectVersion {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrConcurrencyConflict, sk, curVersion, expectVersion)
	}

	appended := make([]Envelope, 0, len(events))
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if want := expectVersion + Version(i+1); e.Version != want {
			return nil, fmt.Errorf("envelope %s has version %d, want %d", e.ID, e.Version, want)
		}
		s.seq++
		e.Seq = s.seq
		appended = append(appended, e)
	}
	s.streams[sk] = append(curStream, appended...)

	s.log.Debug(
		"append",
		slog.String("stream", sk),
		slog.Uint64("last_seq", s.seq),
		slog.Int("num_events", len(appended)),
	)
	return &StoreAppendResult{LastSeq: s.seq}, nil
}

func (s *InMemoryStore) Delete(_ context.Context, aggType, aggID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, snapshotKey(aggType, aggID))
	return nil
}

var _ EventStore = (*InMemoryStore)(nil)
