package nats

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggrepo-go/core/es"
)

func newTestStore(t *testing.T) *EventStore {
	if testing.Short() {
		t.Skip("needs docker")
	}
	store, err := NewEventStore(EventStoreConfig{
		Connect:        NewTestContainer(t),
		Log:            slog.Default(),
		SubjectPrefix:  "foo.tenant-1",
		StreamSubjects: []string{"foo.>"},
		MaxAge:         time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEnvelopes(aggID string, from es.Version, n int) []es.Envelope {
	out := make([]es.Envelope, 0, n)
	for i := range n {
		out = append(out, es.Envelope{
			ID:            gonanoid.Must(),
			OccurredAt:    time.Now(),
			AggregateType: "test",
			AggregateID:   aggID,
			Type:          "foobar",
			Version:       from + es.Version(i),
			Data:          []byte(`{}`),
		})
	}
	return out
}

func TestEventStore_stream(t *testing.T) {
	store := newTestStore(t)
	require.Equal(t, "foo.tenant-1.test.1234", store.subject("test", "1234"))

	si, err := store.stream.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, defaultStreamName, si.Config.Name)
	require.Equal(t, []string{"foo.>"}, si.Config.Subjects)
	require.Equal(t, time.Hour, si.Config.MaxAge)

	res, err := store.Append(t.Context(), "test", "123", 0, testEnvelopes("123", 1, 3))
	require.NoError(t, err)
	require.EqualValues(t, 3, res.LastSeq)

	_, err = store.Load(t.Context(), "test", "123")
	require.NoError(t, err)

	cons := store.stream.ConsumerNames(t.Context())
	names := make([]string, 0)
	for n := range cons.Name() {
		names = append(names, n)
	}
	require.NoError(t, cons.Err())
	require.Empty(t, names, "no dangling consumers")
}

func TestEventStore_renameType(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	store, err := NewEventStore(EventStoreConfig{
		Connect:        NewTestContainer(t),
		StreamSubjects: []string{"aggrepo.>"},
		RenameType:     func(s string) string { return "v2-" + s },
	})
	require.NoError(t, err)
	require.Equal(t, "aggrepo.es.v2-test.1", store.subject("test", "1"))
}

func TestEventStore_invalidTokens(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(t.Context(), "test", "a.b")
	require.Error(t, err)
	_, err = store.Append(t.Context(), "", "1", 0, testEnvelopes("1", 1, 1))
	require.Error(t, err)
}

func TestEventStore_concurrentAppend(t *testing.T) {
	store := newTestStore(t)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	wg.Add(writers)
	for range writers {
		go func() {
			defer wg.Done()
			_, err := store.Append(t.Context(), "test", "race", 0, testEnvelopes("race", 1, 2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, es.ErrConcurrencyConflict):
				conflicts++
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, writers-1, conflicts)

	envs, err := store.Load(t.Context(), "test", "race")
	require.NoError(t, err)
	require.Len(t, envs, 2)
}

func TestEventStore_loadLatency(t *testing.T) {
	const (
		n     = 500
		loads = 50
		from  = 490
		aggID = "agg-123"
	)
	store := newTestStore(t)

	for i := range n {
		_, err := store.Append(t.Context(), "test", aggID, es.Version(i), testEnvelopes(aggID, es.Version(i+1), 1))
		require.NoError(t, err)
	}

	startAt := time.Now()
	for range loads {
		envs, err := store.Load(t.Context(), "test", aggID, es.WithStartAtVersion(from+1))
		require.NoError(t, err)
		require.Len(t, envs, n-from)
	}
	t.Logf("per load: %s", time.Since(startAt)/loads)
}
