package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/core/perkey"
	"github.com/codewandler/aggrepo-go/core/uow"
	"github.com/codewandler/aggrepo-go/internal/config"
)

func testLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Workload.Accounts = 4
	cfg.Workload.Commands = 200
	cfg.Workload.Workers = 4
	cfg.Snapshots.Every = 3
	return cfg
}

func sqliteURL(t *testing.T) string {
	return "sqlite:file:" + filepath.Join(t.TempDir(), "aggrepo.sqlite") + "?_pragma=busy_timeout(5000)"
}

func TestRun(t *testing.T) {
	for name, mutate := range map[string]func(*testing.T, *config.Config){
		"memory": func(*testing.T, *config.Config) {},
		"memory/msgpack": func(_ *testing.T, c *config.Config) {
			c.Snapshots.Codec = "msgpack"
			c.Snapshots.CacheSize = 0
		},
		"sqlite/state": func(t *testing.T, c *config.Config) {
			c.Backend = config.BackendSQLite
			c.Database.URL = sqliteURL(t)
		},
		"sqlite/events": func(t *testing.T, c *config.Config) {
			c.Backend = config.BackendSQLite
			c.Database.URL = sqliteURL(t)
			c.Database.Mode = config.ModeEvents
			c.Snapshots.Store = "backend"
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(t, cfg)
			require.NoError(t, run(t.Context(), cfg, testLog()))
		})
	}
}

func TestRun_unknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "carrier-pigeon"
	require.ErrorContains(t, run(t.Context(), cfg, testLog()), "unknown backend")
}

func newTestBank(t *testing.T, cfg *config.Config) *bank {
	t.Helper()
	be, err := openBackend(t.Context(), cfg, testLog(), es.NopESMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, be.Close()) })

	sched := perkey.New[string]()
	t.Cleanup(sched.Close)
	return &bank{driver: be.driver, sched: sched, uowOpts: []uow.Option{uow.WithLog(testLog())}, log: testLog()}
}

func TestBank(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Backend = backend
			cfg.Database.URL = sqliteURL(t)
			b := newTestBank(t, cfg)
			ctx := t.Context()

			require.NoError(t, b.Open(ctx, "a", "alice", 100))
			require.NoError(t, b.Open(ctx, "b", "bob", 0))
			require.ErrorIs(t, b.Open(ctx, "a", "alice", 100), es.ErrDuplicateKey)

			require.NoError(t, b.Deposit(ctx, "a", 20))
			require.NoError(t, b.Transfer(ctx, "a", "b", 70))
			require.ErrorIs(t, b.Withdraw(ctx, "b", 71), ErrInsufficientFunds)
			require.ErrorIs(t, b.Transfer(ctx, "a", "b", 51), ErrInsufficientFunds)
			require.Error(t, b.Transfer(ctx, "a", "a", 1))

			balA, err := b.Balance(ctx, "a")
			require.NoError(t, err)
			balB, err := b.Balance(ctx, "b")
			require.NoError(t, err)
			require.EqualValues(t, 50, balA)
			require.EqualValues(t, 70, balB)

			require.ErrorContains(t, b.Close(ctx, "a"), "has balance")
			require.NoError(t, b.Withdraw(ctx, "a", 50))
			require.NoError(t, b.Close(ctx, "a"))
			_, err = b.Balance(ctx, "a")
			require.ErrorIs(t, err, es.ErrAggregateNotFound)
		})
	}
}

func TestBank_retriesConflicts(t *testing.T) {
	cfg := testConfig(t)
	b := newTestBank(t, cfg)
	ctx := t.Context()
	require.NoError(t, b.Open(ctx, "a", "alice", 0))

	var retries int
	b.conflicts = func() { retries++ }

	// the first attempt races with a deposit that commits in between
	raced := false
	err := b.exec(ctx, "a", func(ctx context.Context, repo *es.Repository[*Account, string]) error {
		a, err := repo.GetByKey(ctx, "a")
		if err != nil {
			return err
		}
		if !raced {
			raced = true
			// a separate unit of work, not nested in the current one
			require.NoError(t, uow.Do(t.Context(), func(ctx context.Context) error {
				repo, err := b.repo(ctx)
				if err != nil {
					return err
				}
				other, err := repo.GetByKey(ctx, "a")
				if err != nil {
					return err
				}
				return other.Deposit(5)
			}))
		}
		return a.Deposit(10)
	})
	require.NoError(t, err)
	require.Equal(t, 1, retries)

	bal, err := b.Balance(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 15, bal)
}
