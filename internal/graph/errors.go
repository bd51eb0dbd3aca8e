package graph

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError reports a store whose on-disk schema version does not match
// this build. Opening such a store is fatal: no table other than the
// version marker has been read.
type SchemaError struct {
	Path  string
	Found int
	Want  int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf(
		"store %s uses schema version %d, this build expects %d: re-create the store (delete %s and re-ingest) or use a matching codegraph release",
		e.Path, e.Found, e.Want, e.Path)
}

// ConflictError reports that a writer could not acquire the store within
// the busy-timeout. The caller decides whether to retry; the store never
// retries on its own.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: store locked by another writer after busy-timeout: retry, or query through the running server: %v", e.Op, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a writer lock conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// isBusy recognizes SQLITE_BUSY from the modernc driver, which surfaces
// it as a plain error string.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}

// wrapConflict converts SQLITE_BUSY into a ConflictError and leaves
// every other error untouched.
func wrapConflict(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBusy(err) {
		return &ConflictError{Op: op, Err: err}
	}
	return err
}
