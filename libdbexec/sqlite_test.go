package libdbexec_test

import (
	"context"
	"testing"

	libdb "github.com/pairlink/pairlink/libdbexec"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS pairs (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL UNIQUE
);
`

func setupSQLite(t *testing.T) (context.Context, libdb.DBManager) {
	t.Helper()
	ctx := context.TODO()
	db, err := libdb.NewSQLiteDBManager(ctx, ":memory:", testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return ctx, db
}

func TestUnit_SQLite_ExecAndQueryRow(t *testing.T) {
	ctx, db := setupSQLite(t)
	exec := db.WithoutTransaction()

	_, err := exec.ExecContext(ctx, `INSERT INTO pairs(id, label) VALUES ($1, $2)`, "p1", "alpha")
	require.NoError(t, err)

	var label string
	err = exec.QueryRowContext(ctx, `SELECT label FROM pairs WHERE id = $1`, "p1").Scan(&label)
	require.NoError(t, err)
	require.Equal(t, "alpha", label)
}

func TestUnit_SQLite_NotFoundTranslated(t *testing.T) {
	ctx, db := setupSQLite(t)
	exec := db.WithoutTransaction()

	var label string
	err := exec.QueryRowContext(ctx, `SELECT label FROM pairs WHERE id = $1`, "missing").Scan(&label)
	require.ErrorIs(t, err, libdb.ErrNotFound)
}

func TestUnit_SQLite_UniqueViolationTranslated(t *testing.T) {
	ctx, db := setupSQLite(t)
	exec := db.WithoutTransaction()

	_, err := exec.ExecContext(ctx, `INSERT INTO pairs(id, label) VALUES ($1, $2)`, "p1", "alpha")
	require.NoError(t, err)
	_, err = exec.ExecContext(ctx, `INSERT INTO pairs(id, label) VALUES ($1, $2)`, "p2", "alpha")
	require.ErrorIs(t, err, libdb.ErrUniqueViolation)
}

func TestUnit_SQLite_TransactionRollbackOnRelease(t *testing.T) {
	ctx, db := setupSQLite(t)

	rolledBack := false
	exec, _, release, err := db.WithTransaction(ctx, func() { rolledBack = true })
	require.NoError(t, err)

	_, err = exec.ExecContext(ctx, `INSERT INTO pairs(id, label) VALUES ($1, $2)`, "p1", "alpha")
	require.NoError(t, err)

	require.NoError(t, release())
	require.True(t, rolledBack)

	var count int
	err = db.WithoutTransaction().QueryRowContext(ctx, `SELECT COUNT(*) FROM pairs`).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUnit_SQLite_TransactionCommit(t *testing.T) {
	ctx, db := setupSQLite(t)

	exec, commit, release, err := db.WithTransaction(ctx)
	require.NoError(t, err)
	defer release()

	_, err = exec.ExecContext(ctx, `INSERT INTO pairs(id, label) VALUES ($1, $2)`, "p1", "alpha")
	require.NoError(t, err)
	require.NoError(t, commit(ctx))

	var count int
	err = db.WithoutTransaction().QueryRowContext(ctx, `SELECT COUNT(*) FROM pairs`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
