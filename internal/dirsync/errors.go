package dirsync

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialRejected is returned when the provider answers the
	// token exchange with 401 or 403. The customer revoked consent; the
	// connection is disabled until an administrator re-authorizes it.
	ErrCredentialRejected = errors.New("provider rejected the connection credential")

	// ErrBatchFailed is returned when every sub-response of a batch call
	// failed, which signals a systemic provider problem rather than
	// individual missing records.
	ErrBatchFailed = errors.New("all sub-requests of a batch call failed")

	// ErrModeUnsupported is returned by adapters that do not implement
	// the requested sync mode (e.g. assigned-principals on a provider
	// without application assignments).
	ErrModeUnsupported = errors.New("sync mode not supported by this provider")
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status int
	URL    string
	Body   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned status %d for %s", e.Status, e.URL)
}

// Retryable reports whether the response indicates a transient provider
// problem (5xx or throttling) worth retrying the whole run for.
func (e *HTTPError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429
}

// ValidationError is a record that failed required-field validation.
// Data shape issues do not self-heal, so a validation failure is fatal
// for the run and never auto-retried.
type ValidationError struct {
	ConnectionID uint
	Step         string
	Record       string
	Err          error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for connection %d at step %q: %v (record: %s)",
		e.ConnectionID, e.Step, e.Err, e.Record)
}

// Unwrap returns the underlying validator error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Retryable classifies a run failure. Transient transport errors and 5xx
// provider responses are retryable at the whole-run level; credential
// rejection, validation failures and other 4xx responses are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCredentialRejected) {
		return false
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return false
	}

	var hErr *HTTPError
	if errors.As(err, &hErr) {
		return hErr.Retryable()
	}

	// Timeouts, refused connections and other transport level failures.
	return true
}
