package evidence

import (
	"errors"
	"fmt"
)

// ErrInvalidQuery matches every *QueryError under errors.Is.
var ErrInvalidQuery = errors.New("invalid evidence query")

// StorageError is a failed call on an evidence backend.
type StorageError struct {
	Backend   string // "sqlite" or "memory"
	Operation string
	Cause     error
}

func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("evidence %s: %s: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// QueryError rejects a query before it reaches a backend.
type QueryError struct {
	Query  *Query
	Reason string
}

func newQueryError(q *Query, reason string) *QueryError {
	return &QueryError{Query: q, Reason: reason}
}

func (e *QueryError) Error() string {
	return ErrInvalidQuery.Error() + ": " + e.Reason
}

func (e *QueryError) Is(target error) bool { return target == ErrInvalidQuery }

// RetentionError is a failed prune. Phase is "age" or "count".
type RetentionError struct {
	Phase         string
	RetentionDays int
	MaxRecords    int64
	Cause         error
}

func NewRetentionError(phase string, retentionDays int, maxRecords int64, cause error) *RetentionError {
	return &RetentionError{Phase: phase, RetentionDays: retentionDays, MaxRecords: maxRecords, Cause: cause}
}

func (e *RetentionError) Error() string {
	if e.Phase == "count" {
		return fmt.Sprintf("prune to %d records: %v", e.MaxRecords, e.Cause)
	}
	return fmt.Sprintf("prune records older than %d days: %v", e.RetentionDays, e.Cause)
}

func (e *RetentionError) Unwrap() error { return e.Cause }

// ExportError is a failed export. RecordCount is how many records were
// written before the failure.
type ExportError struct {
	Format      string // "json" or "csv"
	RecordCount int
	Cause       error
}

func NewExportError(format string, recordCount int, cause error) *ExportError {
	return &ExportError{Format: format, RecordCount: recordCount, Cause: cause}
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("%s export after %d records: %v", e.Format, e.RecordCount, e.Cause)
}

func (e *ExportError) Unwrap() error { return e.Cause }
