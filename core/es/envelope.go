package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the persisted form of a DomainEvent, the unit of storage in an
// EventStore.
type Envelope struct {
	ID string `json:"id"`
	// Seq is assigned by the store and orders events across all streams.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate stream version (1, 2, 3, ...).
	Version       Version         `json:"version"`
	AggregateType string          `json:"aggregate"`
	AggregateID   string          `json:"aggregate_id"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	return nil
}

// Seal encodes a domain event into a validated envelope.
func Seal[K comparable](id, aggType string, e DomainEvent[K]) (Envelope, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	env := Envelope{
		ID:            id,
		Version:       e.Version,
		AggregateType: aggType,
		AggregateID:   KeyString(e.Key),
		Type:          e.Type,
		OccurredAt:    e.OccurredAt,
		Data:          data,
	}
	return env, env.Validate()
}

// Open decodes an envelope with the handler map of its aggregate type.
// The envelope must belong to key.
func Open[T any, K comparable](h *EventHandlers[T], key K, env Envelope) (DomainEvent[K], error) {
	if want := KeyString(key); env.AggregateID != want {
		return DomainEvent[K]{}, reconstructionError(ErrMismatchedAggregateKey,
			"envelope %s belongs to %q, loading %q", env.ID, env.AggregateID, want)
	}
	payload, err := h.Decode(env)
	if err != nil {
		return DomainEvent[K]{}, err
	}
	return DomainEvent[K]{
		Key:        key,
		Version:    env.Version,
		Type:       env.Type,
		OccurredAt: env.OccurredAt,
		Payload:    payload,
	}, nil
}
