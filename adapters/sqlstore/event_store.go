package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/aggrepo-go/core/es"
)

// EventStore keeps one row per event in aggrepo_events. The unique index on
// (agg_type, agg_id, version) rejects concurrent appends to the same stream.
type EventStore struct {
	db  *DB
	log *slog.Logger
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db, log: db.log.With(slog.String("store", "sql"))}
}

func (s *EventStore) Load(ctx context.Context, aggType, aggID string, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	loadOpts := es.NewStoreLoadOptions(opts...)

	rows, err := s.db.query(ctx,
		`SELECT seq, id, version, type, occurred_at, data FROM aggrepo_events
		WHERE agg_type = ? AND agg_id = ? AND version >= ?
		ORDER BY version`,
		aggType, aggID, int64(loadOpts.StartVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", aggType, aggID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []es.Envelope
	for rows.Next() {
		var (
			env        = es.Envelope{AggregateType: aggType, AggregateID: aggID}
			occurredAt int64
			data       []byte
		)
		if err := rows.Scan(&env.Seq, &env.ID, &env.Version, &env.Type, &occurredAt, &data); err != nil {
			return nil, fmt.Errorf("scan %s/%s: %w", aggType, aggID, err)
		}
		env.OccurredAt = time.Unix(0, occurredAt).UTC()
		env.Data = data
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", aggType, aggID, err)
	}
	return out, nil
}

func (s *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
	opts ...es.StoreAppendOption,
) (*es.StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if want := expectedVersion + es.Version(i+1); e.Version != want {
			return nil, fmt.Errorf("envelope %s has version %d, want %d", e.ID, e.Version, want)
		}
	}

	var (
		newStream = es.NewStoreAppendOptions(opts...).NewStream
		lastSeq   uint64
	)
	err := s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		var current sql.NullInt64
		if err := s.db.queryRow(ctx,
			`SELECT MAX(version) FROM aggrepo_events WHERE agg_type = ? AND agg_id = ?`,
			aggType, aggID,
		).Scan(&current); err != nil {
			return fmt.Errorf("read version of %s/%s: %w", aggType, aggID, err)
		}
		if newStream {
			if current.Valid {
				return conflict(aggType, aggID, expectedVersion, es.Version(current.Int64))
			}
		} else if es.Version(current.Int64) != expectedVersion {
			return conflict(aggType, aggID, expectedVersion, es.Version(current.Int64))
		}

		for _, e := range events {
			err := s.db.queryRow(ctx,
				`INSERT INTO aggrepo_events (id, agg_type, agg_id, version, type, occurred_at, data)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (agg_type, agg_id, version) DO NOTHING
				RETURNING seq`,
				e.ID, aggType, aggID, int64(e.Version), e.Type, e.OccurredAt.UnixNano(), []byte(e.Data),
			).Scan(&lastSeq)
			if errors.Is(err, sql.ErrNoRows) {
				return conflict(aggType, aggID, expectedVersion, e.Version)
			} else if err != nil {
				return fmt.Errorf("append %s to %s/%s: %w", e.ID, aggType, aggID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(
		"append",
		slog.String("stream", aggType+"/"+aggID),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(events)),
	)
	return &es.StoreAppendResult{LastSeq: lastSeq}, nil
}

func (s *EventStore) Delete(ctx context.Context, aggType, aggID string) error {
	if _, err := s.db.exec(ctx,
		`DELETE FROM aggrepo_events WHERE agg_type = ? AND agg_id = ?`, aggType, aggID,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", aggType, aggID, err)
	}
	return nil
}

func conflict(aggType, aggID string, expected, actual es.Version) error {
	return fmt.Errorf("%w: %s/%s at version %d, expected %d", es.ErrConcurrencyConflict, aggType, aggID, actual, expected)
}

var _ es.EventStore = (*EventStore)(nil)
