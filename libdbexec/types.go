// Package libdbexec abstracts SQL access behind a driver-agnostic executor.
// A DBManager hands out Exec instances bound either to the pool or to a
// transaction; driver-specific errors are translated to the sentinel errors
// below so callers can branch with errors.Is regardless of backend.
package libdbexec

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound             = errors.New("libdb: not found")
	ErrTxFailed             = errors.New("libdb: transaction failed")
	ErrQueryCanceled        = errors.New("libdb: query canceled")
	ErrUniqueViolation      = errors.New("libdb: unique constraint violation")
	ErrForeignKeyViolation  = errors.New("libdb: foreign key violation")
	ErrNotNullViolation     = errors.New("libdb: not-null violation")
	ErrCheckViolation       = errors.New("libdb: check constraint violation")
	ErrConstraintViolation  = errors.New("libdb: constraint violation")
	ErrDeadlockDetected     = errors.New("libdb: deadlock detected")
	ErrSerializationFailure = errors.New("libdb: serialization failure")
	ErrLockNotAvailable     = errors.New("libdb: lock not available")
	ErrDataTruncation       = errors.New("libdb: data truncation")
	ErrNumericOutOfRange    = errors.New("libdb: numeric value out of range")
	ErrInvalidInputSyntax   = errors.New("libdb: invalid input syntax")
	ErrUndefinedColumn      = errors.New("libdb: undefined column")
	ErrUndefinedTable       = errors.New("libdb: undefined table")
)

// QueryRower mirrors (*sql.Row).Scan with error translation applied.
type QueryRower interface {
	Scan(dest ...any) error
}

// Exec is the query surface stores are written against. It is satisfied by
// both pool-backed and transaction-backed executors.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// CommitTx commits the transaction an Exec was bound to.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back if the transaction was never committed and releases
// its resources. Always safe to defer.
type ReleaseTx func() error

// DBManager owns a database connection pool.
type DBManager interface {
	// WithoutTransaction returns an executor bound to the pool.
	WithoutTransaction() Exec
	// WithTransaction begins a transaction. onRollback hooks run if the
	// transaction is released without a commit.
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

// txAwareDB implements Exec over either a *sql.DB or a *sql.Tx, translating
// errors through the owning driver's translator.
type txAwareDB struct {
	db           *sql.DB
	tx           *sql.Tx
	errTranslate func(error) error
}

func (s *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	switch {
	case s.tx != nil:
		res, err = s.tx.ExecContext(ctx, query, args...)
	case s.db != nil:
		res, err = s.db.ExecContext(ctx, query, args...)
	default:
		return nil, errors.New("libdb: Exec called on uninitialized executor")
	}
	if err != nil {
		return nil, s.errTranslate(err)
	}
	return res, nil
}

func (s *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	switch {
	case s.tx != nil:
		rows, err = s.tx.QueryContext(ctx, query, args...)
	case s.db != nil:
		rows, err = s.db.QueryContext(ctx, query, args...)
	default:
		return nil, errors.New("libdb: Query called on uninitialized executor")
	}
	if err != nil {
		return nil, s.errTranslate(err)
	}
	return rows, nil
}

func (s *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	var r *sql.Row
	switch {
	case s.tx != nil:
		r = s.tx.QueryRowContext(ctx, query, args...)
	case s.db != nil:
		r = s.db.QueryRowContext(ctx, query, args...)
	default:
		return &row{err: errors.New("libdb: QueryRow called on uninitialized executor")}
	}
	return &row{inner: r, errTranslate: s.errTranslate}
}

// row wraps *sql.Row so Scan errors pass through the driver translator.
type row struct {
	inner        *sql.Row
	err          error
	errTranslate func(error) error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.inner == nil {
		return errors.New("libdb: Scan called on nil row wrapper")
	}
	if err := r.inner.Scan(dest...); err != nil {
		return r.errTranslate(err)
	}
	return nil
}
