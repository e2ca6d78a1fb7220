package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// postgresDBManager implements DBManager for PostgreSQL. Used in server mode.
type postgresDBManager struct {
	dbInstance *sql.DB
}

// NewPostgresDBManager opens a connection pool, verifies connectivity, and
// optionally applies an initial schema. For production schema management a
// dedicated migration tool is preferable to a schema string.
func NewPostgresDBManager(ctx context.Context, dsn string, schema string) (DBManager, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", translatePostgresError(err))
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database connection failed: %w", translatePostgresError(err))
	}

	if schema != "" {
		if _, err = db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", translatePostgresError(err))
		}
	}

	return &postgresDBManager{dbInstance: db}, nil
}

func (sm *postgresDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: sm.dbInstance, errTranslate: translatePostgresError}
}

func (sm *postgresDBManager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := sm.dbInstance.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, func() error { return nil }, fmt.Errorf("%w: begin transaction failed: %w", ErrTxFailed, translatePostgresError(err))
	}

	store := &txAwareDB{tx: tx, errTranslate: translatePostgresError}
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
			return fmt.Errorf("%w: commit failed: %w", ErrTxFailed, translatePostgresError(err))
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
			return fmt.Errorf("%w: rollback failed: %w", ErrTxFailed, translatePostgresError(rollbackErr))
		}
		return nil
	}

	return store, commitFn, releaseFn, nil
}

func (sm *postgresDBManager) Close() error {
	if sm.dbInstance != nil {
		return sm.dbInstance.Close()
	}
	return nil
}

// translatePostgresError maps sql and pq errors onto the package sentinels.
func translatePostgresError(err error) error {
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

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// pqErr.Code is the SQLSTATE code.
		switch pqErr.Code {
		case "23505":
			return ErrUniqueViolation
		case "23503":
			return ErrForeignKeyViolation
		case "23502":
			return ErrNotNullViolation
		case "23514":
			return ErrCheckViolation
		case "40P01":
			return ErrDeadlockDetected
		case "40001":
			return ErrSerializationFailure
		case "55P03":
			return ErrLockNotAvailable
		case "57014":
			return fmt.Errorf("%w: %s", ErrQueryCanceled, pqErr.Message)
		case "22001":
			return ErrDataTruncation
		case "22003":
			return ErrNumericOutOfRange
		case "22P02":
			return fmt.Errorf("%w: %s", ErrInvalidInputSyntax, pqErr.Message)
		case "42703":
			return ErrUndefinedColumn
		case "42P01":
			return ErrUndefinedTable
		default:
			if pqErr.Code.Class() == "23" {
				return fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
			}
			return fmt.Errorf("libdb: postgres error: code=%s detail=%q message=%q: %w",
				pqErr.Code, pqErr.Detail, pqErr.Message, err)
		}
	}

	return fmt.Errorf("libdb: unexpected database error: %w", err)
}
