package ledger

import "errors"

// Sentinel errors returned by Store's public operations. Handlers in
// pkg/server map these to HTTP status codes.
var (
	// ErrConflict is returned by AppendClaim when the task is actively
	// claimed by a different agent whose claim has not expired.
	ErrConflict = errors.New("ledger: task actively claimed by another agent")

	// ErrAlreadyDone is returned by AppendClaim when a completion entry
	// already exists for the task.
	ErrAlreadyDone = errors.New("ledger: task already completed")
)

// StorageError wraps an underlying disk I/O failure. A failed write must
// not mutate in-memory state; callers retry against the unchanged tail.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "ledger: storage error during " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }
