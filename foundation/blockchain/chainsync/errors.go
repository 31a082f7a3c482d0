package chainsync

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a sync is requested while another one
// is running. The request is a no-op.
var ErrSyncInProgress = errors.New("sync already in progress")

// Set of reasons a sync attempt is aborted. An Error always carries one of
// these as its Kind.
var (
	ErrHeaderHashMismatch = errors.New("block hash does not match header")
	ErrRetriesExhausted   = errors.New("request retries exhausted")
	ErrNoSyncPeer         = errors.New("no suitable peer for sync")
	ErrInvalidHeader      = errors.New("invalid header")
	ErrBlockRejected      = errors.New("block rejected by the ledger")
)

// Error describes why a sync attempt was aborted. The node stays eligible
// for a fresh attempt later.
type Error struct {
	Kind   error
	Height uint64
	Err    error
}

// Error implements the error interface.
func (se *Error) Error() string {
	if se.Err == nil {
		return fmt.Sprintf("sync: %s: height %d", se.Kind, se.Height)
	}
	return fmt.Sprintf("sync: %s: height %d: %s", se.Kind, se.Height, se.Err)
}

// Unwrap exposes both the kind and the underlying error to errors.Is.
func (se *Error) Unwrap() []error {
	if se.Err == nil {
		return []error{se.Kind}
	}
	return []error{se.Kind, se.Err}
}

// IsSyncError checks if an error of type Error exists.
func IsSyncError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
