package tx

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnection is returned by Acquire when the physical connection cannot be opened.
	ErrConnection = errors.New("tx: cannot open database connection")

	// ErrNotAcquired is returned when an operation is called outside any acquisition.
	ErrNotAcquired = errors.New("tx: operation requires an acquired transaction")

	// ErrInvalidParameter is returned by Add/AddMany for unsupported parameter shapes.
	ErrInvalidParameter = errors.New("tx: invalid statement parameters")

	// ErrInvalidReference is returned when a Reference cannot be resolved.
	ErrInvalidReference = errors.New("tx: invalid result reference")

	// ErrStatement marks a failed statement execution.
	ErrStatement = errors.New("tx: statement failed")

	// ErrCallback marks a failed post-commit or post-rollback callback.
	ErrCallback = errors.New("tx: callback failed")

	// ErrAborted is returned by Execute and Commit after a statement failure
	// until the transaction is rolled back.
	ErrAborted = errors.New("tx: transaction aborted, rollback required")
)

// StatementError reports the queue position and driver diagnostic of a failed statement.
type StatementError struct {
	Index int
	SQL   string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("tx: statement %d failed: %v", e.Index, e.Err)
}

// Unwrap exposes both the sentinel and the driver error to errors.Is/As.
func (e *StatementError) Unwrap() []error {
	return []error{ErrStatement, e.Err}
}

// InvalidReferenceError describes a Reference that points forward or out of range.
type InvalidReferenceError struct {
	Ref      Reference
	Position int
	Reason   string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("tx: statement %d: reference %s: %s", e.Position, e.Ref, e.Reason)
}

func (e *InvalidReferenceError) Unwrap() error {
	return ErrInvalidReference
}

// CallbackError collects the failures of post-commit or post-rollback callbacks.
// The commit or rollback itself has already completed when it is returned.
type CallbackError struct {
	Phase  string // "commit" or "rollback"
	Errors []error
}

func (e *CallbackError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("tx: %d post-%s callback(s) failed: %s", len(e.Errors), e.Phase, strings.Join(msgs, "; "))
}

func (e *CallbackError) Unwrap() []error {
	return append([]error{ErrCallback}, e.Errors...)
}

// BatchError is returned by BatchConn implementations to report which
// statement of a pipelined batch failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch statement %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
