package apperror

import (
	"context"
	"errors"

	"labcontrol/internal/core/tx"
)

// Driver error classes, matched on PostgreSQL SQLSTATE or SQLite extended
// result codes.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateCheckViolation      = "23514"
	sqlStateQueryCanceled       = "57014"

	sqliteConstraintCheck      = 275
	sqliteConstraintForeignKey = 787
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// FromTx translates a transaction manager error into an AppError.
// AppErrors already in the chain are returned unchanged; nil stays nil.
func FromTx(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	switch {
	case errors.Is(err, tx.ErrConnection):
		return New(CodeUnavailable, "Database is unavailable").wrap(err)

	case errors.Is(err, context.DeadlineExceeded), sqlState(err) == sqlStateQueryCanceled:
		return New(CodeTimeout, "Database operation timed out").wrap(err)

	case errors.Is(err, tx.ErrStatement):
		return fromStatement(err)

	case errors.Is(err, tx.ErrCallback):
		// The transaction itself completed; only follow-up work failed.
		return NewInternal(err).WithDetail("phase", "callback")
	}

	return New(CodeDatabase, "Database operation failed").wrap(err)
}

func fromStatement(err error) *AppError {
	var appErr *AppError
	state, code := sqlState(err), sqliteCode(err)
	switch {
	case state == sqlStateUniqueViolation, code == sqliteConstraintUnique, code == sqliteConstraintPrimaryKey:
		appErr = New(CodeDuplicate, "Record already exists")
	case state == sqlStateForeignKeyViolation, code == sqliteConstraintForeignKey:
		appErr = New(CodeConflict, "Referenced record does not exist or is still in use")
	case state == sqlStateCheckViolation, code == sqliteConstraintCheck:
		appErr = New(CodeValidation, "Value violates a constraint")
	default:
		appErr = New(CodeDatabase, "Database operation failed")
	}
	appErr.wrap(err)

	var stmtErr *tx.StatementError
	if errors.As(err, &stmtErr) {
		appErr.WithDetail("statement", stmtErr.Index)
	}
	return appErr
}

// sqlState extracts a PostgreSQL SQLSTATE (pgconn.PgError implements SQLState).
func sqlState(err error) string {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState()
	}
	return ""
}

// sqliteCode extracts a SQLite extended result code (modernc sqlite.Error implements Code).
func sqliteCode(err error) int {
	var liteErr interface{ Code() int }
	if errors.As(err, &liteErr) {
		return liteErr.Code()
	}
	return 0
}
