package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// getDBs returns the databases under test. PostgreSQL needs docker and is
// skipped in short mode.
func getDBs(t *testing.T) map[string]*DB {
	t.Helper()
	dbs := map[string]*DB{"sqlite": NewTestSQLite(t)}
	if !testing.Short() {
		dbs["postgres"] = NewTestPostgres(t)
	}
	return dbs
}

func TestParseURL(t *testing.T) {
	for _, tc := range []struct {
		url        string
		driverName string
		dsn        string
		dialect    Dialect
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "pgx", "postgres://u:p@localhost:5432/db?sslmode=disable", DialectPostgres},
		{"postgresql://localhost/db", "pgx", "postgresql://localhost/db", DialectPostgres},
		{"host=localhost user=u dbname=db", "pgx", "host=localhost user=u dbname=db", DialectPostgres},
		{"sqlite:file:x.sqlite", "sqlite3", "file:x.sqlite", DialectSQLite},
		{"sqlite:", "sqlite3", defaultSQLiteDSN, DialectSQLite},
	} {
		t.Run(tc.url, func(t *testing.T) {
			driverName, dsn, dialect, err := parseURL(tc.url)
			require.NoError(t, err)
			require.Equal(t, tc.driverName, driverName)
			require.Equal(t, tc.dsn, dsn)
			require.Equal(t, tc.dialect, dialect)
		})
	}

	for _, bad := range []string{"", "mysql://localhost/db", "just-a-name"} {
		_, _, _, err := parseURL(bad)
		require.Error(t, err, bad)
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	require.Equal(t, "SELECT $1, $2 WHERE a = $3", pg.rebind("SELECT ?, ? WHERE a = ?"))

	lite := &DB{dialect: DialectSQLite}
	require.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestDB_Migrate_idempotent(t *testing.T) {
	db := NewTestSQLite(t)
	require.NoError(t, db.Migrate(t.Context()))
	require.Equal(t, DialectSQLite, db.Dialect())
}

func TestDB_WithinTransaction(t *testing.T) {
	for name, db := range getDBs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			count := func(key string) int {
				var n int
				require.NoError(t, db.queryRow(ctx, `SELECT COUNT(*) FROM aggrepo_kv WHERE kv_key = ?`, key).Scan(&n))
				return n
			}
			insert := func(ctx context.Context, key string) error {
				_, err := db.exec(ctx, `INSERT INTO aggrepo_kv (kv_key, data) VALUES (?, ?)`, key, []byte("x"))
				return err
			}

			t.Run("commit", func(t *testing.T) {
				require.NoError(t, db.WithinTransaction(ctx, func(ctx context.Context) error {
					return insert(ctx, "tx-commit")
				}))
				require.Equal(t, 1, count("tx-commit"))
			})

			t.Run("rollback", func(t *testing.T) {
				boom := errors.New("boom")
				err := db.WithinTransaction(ctx, func(ctx context.Context) error {
					require.NoError(t, insert(ctx, "tx-rollback"))
					return boom
				})
				require.ErrorIs(t, err, boom)
				require.Zero(t, count("tx-rollback"))
			})

			t.Run("nested calls join", func(t *testing.T) {
				boom := errors.New("boom")
				err := db.WithinTransaction(ctx, func(ctx context.Context) error {
					require.NoError(t, db.WithinTransaction(ctx, func(ctx context.Context) error {
						return insert(ctx, "tx-nested")
					}))
					return boom
				})
				require.ErrorIs(t, err, boom)
				require.Zero(t, count("tx-nested"))
			})

			t.Run("panic rolls back", func(t *testing.T) {
				require.Panics(t, func() {
					_ = db.WithinTransaction(ctx, func(ctx context.Context) error {
						require.NoError(t, insert(ctx, "tx-panic"))
						panic("boom")
					})
				})
				require.Zero(t, count("tx-panic"))
			})
		})
	}
}
