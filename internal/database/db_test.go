package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}

func TestConnectSQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("file database is created and migrated twice", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "broadcast.db")
		db, err := Connect("", path)
		require.NoError(t, err)
		defer db.Close()

		assert.Equal(t, DriverSQLite, db.Driver)
		require.NoError(t, db.Migrate(ctx))
		require.NoError(t, db.Migrate(ctx))
		require.NoError(t, db.Ping(ctx))
	})

	t.Run("rebind keeps question marks", func(t *testing.T) {
		db, err := ConnectSQLite(":memory:")
		require.NoError(t, err)
		defer db.Close()

		assert.Equal(t, "SELECT ? , ?", db.Rebind("SELECT ? , ?"))
	})
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	db, err := ConnectSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	insert := `INSERT INTO accounts (identifier, role, active, created_at, updated_at) VALUES (?, 'subscriber', TRUE, 1, 1)`

	t.Run("commits on success", func(t *testing.T) {
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, insert, "+15550000001")
			return err
		})
		require.NoError(t, err)

		var n int
		require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts`))
		assert.Equal(t, 1, n)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, insert, "+15550000002"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var n int
		require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts`))
		assert.Equal(t, 1, n)
	})
}
