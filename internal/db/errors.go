package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for store operations. Check with errors.Is.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadySubmitted indicates an attempt to record a second external
	// job id for a batch that already has one. Resubmitting the same
	// logical batch is a manifest consistency violation, never retried.
	ErrAlreadySubmitted = errors.New("batch already submitted")

	// ErrStateRegression indicates an attempt to move a job state
	// backwards or out of a terminal state.
	ErrStateRegression = errors.New("illegal state transition")

	// ErrTransactionConflict indicates concurrent writers hit the same
	// record. Callers should retry the single operation.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError maps SurrealDB query errors onto sentinels where the
// message identifies a known condition.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		if strings.Contains(queryErr.Message, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, queryErr.Message)
		}
	}
	return err
}
