package node

import (
	"errors"
	"fmt"
)

// Set of errors returned by the operational API.
var (
	ErrShutdown         = errors.New("node is shut down")
	ErrNotStarted       = errors.New("node is not started")
	ErrMiningInProgress = errors.New("mining already in progress")
	ErrMiningCancelled  = errors.New("mining cancelled")
	ErrAlreadyPending   = errors.New("transaction already pending")
)

// ConnectionError reports a refused, reset or timed out connection. The
// peer is removed and no reconnect is attempted.
type ConnectionError struct {
	PeerID string
	Op     string
	Err    error
}

// Error implements the error interface.
func (ce *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %s: %s", ce.PeerID, ce.Op, ce.Err)
}

// Unwrap returns the underlying error.
func (ce *ConnectionError) Unwrap() error {
	return ce.Err
}

// IsConnectionError checks if an error of type ConnectionError exists.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
