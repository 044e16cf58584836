package sqlstore

import (
	"context"
	"path/filepath"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
	TempDir() string
}

// NewTestSQLite opens a migrated SQLite database in a temporary directory.
func NewTestSQLite(t Testing) *DB {
	dsn := "sqlite:file:" + filepath.Join(t.TempDir(), "aggrepo.sqlite") + "?_pragma=busy_timeout(5000)"
	return openTest(t, dsn)
}

// NewTestPostgres starts a PostgreSQL container for the duration of the test
// and returns a migrated database on it.
func NewTestPostgres(t Testing) *DB {
	ctx := t.Context()
	pgC, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("aggrepo"),
		tcpostgres.WithUsername("aggrepo"),
		tcpostgres.WithPassword("aggrepo"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("terminate postgres container: %s", err.Error())
		}
	})

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	t.Logf("postgres dsn: %s", dsn)
	return openTest(t, dsn)
}

func openTest(t Testing, dsn string) *DB {
	db, err := Open(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(t.Context()))
	return db
}
