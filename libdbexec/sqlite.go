package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteDBManager implements DBManager for SQLite. Used in local
// single-process mode and unit tests; the server keeps using Postgres.
type sqliteDBManager struct {
	dbInstance *sql.DB
}

// NewSQLiteDBManager opens (or creates) the database file at path and applies
// schema if given. Use ":memory:" for a throwaway in-memory database.
func NewSQLiteDBManager(ctx context.Context, path string, schema string) (DBManager, error) {
	if err := ensureSQLiteParentDir(path); err != nil {
		return nil, fmt.Errorf("sqlite parent dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", translateSQLiteError(err))
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite connection failed: %w", translateSQLiteError(err))
	}

	// SQLite does not enforce foreign keys by default.
	if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite foreign_keys pragma failed: %w", translateSQLiteError(err))
	}

	if schema != "" {
		if _, err = db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize sqlite schema: %w", translateSQLiteError(err))
		}
	}

	return &sqliteDBManager{dbInstance: db}, nil
}

func (sm *sqliteDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: sm.dbInstance, errTranslate: translateSQLiteError}
}

func (sm *sqliteDBManager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := sm.dbInstance.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, func() error { return nil }, fmt.Errorf("%w: begin transaction failed: %w", ErrTxFailed, translateSQLiteError(err))
	}

	store := &txAwareDB{tx: tx, errTranslate: translateSQLiteError}
	committed := false
	rollback := func() {
		for _, f := range onRollback {
			if f != nil {
				f()
			}
		}
	}

	commitFn := func(commitCtx context.Context) error {
		if ctxErr := commitCtx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: context error before commit: %w", ErrTxFailed, ctxErr)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit failed: %w", ErrTxFailed, translateSQLiteError(err))
		}
		committed = true
		return nil
	}

	releaseFn := func() error {
		rollbackErr := tx.Rollback()
		if !committed {
			rollback()
		}
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback failed: %w", ErrTxFailed, translateSQLiteError(rollbackErr))
		}
		return nil
	}

	return store, commitFn, releaseFn, nil
}

func (sm *sqliteDBManager) Close() error {
	if sm.dbInstance != nil {
		return sm.dbInstance.Close()
	}
	return nil
}

func ensureSQLiteParentDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	trimmed := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	dir := filepath.Dir(trimmed)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// translateSQLiteError maps sqlite driver errors onto the package sentinels.
// modernc.org/sqlite reports constraint failures through error strings, so
// matching is textual where no typed error exists.
func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrQueryCanceled, context.Canceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueryCanceled, context.DeadlineExceeded)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ErrUniqueViolation
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrForeignKeyViolation
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return ErrNotNullViolation
	case strings.Contains(msg, "CHECK constraint failed"):
		return ErrCheckViolation
	case strings.Contains(msg, "no such column"):
		return ErrUndefinedColumn
	case strings.Contains(msg, "no such table"):
		return ErrUndefinedTable
	case strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %s", ErrConstraintViolation, msg)
	}

	return fmt.Errorf("libdb: unexpected database error: %w", err)
}
