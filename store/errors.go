package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a TableClient when a row does not exist.
	ErrNotFound = errors.New("tablestore: entity not found")

	// ErrConcurrentModification is matched by every *ConcurrencyError.
	ErrConcurrentModification = errors.New("tablestore: entity was modified concurrently")

	// ErrCommitFailed is matched by every *CommitError.
	ErrCommitFailed = errors.New("tablestore: commit failed")

	// ErrInconsistentState is matched by every *InconsistentStateError.
	ErrInconsistentState = errors.New("tablestore: inconsistent table state")

	// ErrUnregisteredType is returned when a type is used before Register.
	ErrUnregisteredType = errors.New("tablestore: type is not registered")

	// ErrNoUniqueStrategy is returned when no row key can be derived for a type.
	ErrNoUniqueStrategy = errors.New("tablestore: no unique key strategy")
)

// ConcurrencyError reports a tracked entity whose stored version moved on
// since it was read.
type ConcurrencyError struct {
	Type         string
	ID           string
	PartitionKey string
	RowKey       string
	Expected     string
	Actual       string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("tablestore: %s %q was modified concurrently at %s/%s: expected version %q, found %q",
		e.Type, e.ID, e.PartitionKey, e.RowKey, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// CommitError reports a batch the backing store rejected. Every key of the
// batch is named; none of them was written.
type CommitError struct {
	Type         string
	PartitionKey string
	Keys         []Key
	Code         string
	Err          error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("tablestore: commit of %d %s rows in partition %q failed (%s): %v",
		len(e.Keys), e.Type, e.PartitionKey, e.Code, e.Err)
}

func (e *CommitError) Is(target error) bool {
	return target == ErrCommitFailed
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// InconsistentStateError reports a row key that resolves to more than one
// row within a partition strategy's prefix.
type InconsistentStateError struct {
	Type    string
	RowKey  string
	Matches int
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("tablestore: %s row key %q matches %d rows", e.Type, e.RowKey, e.Matches)
}

func (e *InconsistentStateError) Is(target error) bool {
	return target == ErrInconsistentState
}

// RequestFailedError is returned by TableClient implementations for failures
// reported by the backing store. Code is the provider's error code.
type RequestFailedError struct {
	Code string
	Err  error
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("tablestore: request failed (%s): %v", e.Code, e.Err)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the provider code from err, or "" when it carries none.
func ErrorCode(err error) string {
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		return rf.Code
	}
	return ""
}
