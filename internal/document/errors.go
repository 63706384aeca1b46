package document

import "errors"

var (
	// ErrNotFound covers missing documents/steps, foreign ownership and
	// states that forbid the operation.
	ErrNotFound = errors.New("document not found or access denied")
	// ErrConflict is a conflicting state such as saving twice.
	ErrConflict = errors.New("conflicting state")
	// ErrValidation is a malformed desired state.
	ErrValidation = errors.New("invalid request")
	// ErrTransaction is a storage failure or timeout during an atomic apply.
	// Nothing was changed.
	ErrTransaction = errors.New("transaction failed")
	// ErrConcurrentUpdate marks a lock or serialization conflict. It is
	// always wrapped together with ErrTransaction and is safe to retry.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// IsRetryable reports whether err is a transaction failure the caller may
// retry as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}
