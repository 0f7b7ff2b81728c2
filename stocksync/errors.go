package stocksync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means an identifier could not be resolved even after a live
	// lookup in the owning system. Terminal for the item, not the batch.
	ErrNotFound = errors.New("identifier not found")

	// ErrTotalBatchFailure escalates a batch where every single SKU failed to
	// fetch; the session transitions to failed and halts auto-continuation.
	ErrTotalBatchFailure = errors.New("every sku in the batch failed to fetch")

	// ErrBulkUnsupported is returned by a channel adapter whose bulk endpoint
	// is unavailable; the dispatcher falls back to per-item calls.
	ErrBulkUnsupported = errors.New("channel has no usable bulk path")
)

// SessionStateError reports an operation attempted against a session in an
// incompatible state (continuing a completed session, replaying an already
// advanced batch, racing another invocation). Always surfaced to the caller.
type SessionStateError struct {
	Op     string
	Reason string
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("session state error in %s: %s", e.Op, e.Reason)
}

func IsSessionStateError(err error) bool {
	var sse *SessionStateError
	return errors.As(err, &sse)
}

// TransientError wraps a network-ish failure worth retrying at the adapter
// boundary. Anything not marked transient is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError is a channel-side rejection of a value (for example a
// malformed handle). Terminal for the item.
type ValidationError struct {
	Sku    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Sku, e.Reason)
}
