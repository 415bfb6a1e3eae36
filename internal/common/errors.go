package common

import (
	"errors"
	"fmt"
)

// Request error taxonomy. Handlers map these onto HTTP statuses:
// InvalidRequest -> 400, AccessDenied -> 403, PresentableError -> 200 with an
// error banner payload, Redirect -> 303, anything else -> 500 with a stack
// trace in the server log.

// InvalidRequestError indicates client-supplied data that is malformed or
// references entities that do not exist.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string { return e.Message }

// NewInvalidRequest creates an InvalidRequestError with a formatted message
func NewInvalidRequest(format string, args ...interface{}) error {
	return &InvalidRequestError{Message: fmt.Sprintf(format, args...)}
}

// AccessDeniedError indicates the authenticated identity lacks the required
// privilege, or no identity was presented where one is required.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string {
	if e.Message == "" {
		return "access denied"
	}
	return e.Message
}

// PresentableError indicates a processing failure that is meaningful to the
// end user and should be shown in place of the normal content.
type PresentableError struct {
	Message string
}

func (e *PresentableError) Error() string { return e.Message }

// NewPresentable creates a PresentableError with a formatted message
func NewPresentable(format string, args ...interface{}) error {
	return &PresentableError{Message: fmt.Sprintf(format, args...)}
}

// ArgsCorrectedError indicates the parser normalised or clamped request
// arguments. GET handlers reply 303 to the corrected URL; POST handlers retry
// the processor in-process with the corrected arguments.
type ArgsCorrectedError struct {
	CorrectedURL string
}

func (e *ArgsCorrectedError) Error() string {
	return "arguments corrected: " + e.CorrectedURL
}

// RedirectError is normal control flow carrying a target URL.
type RedirectError struct {
	URL string
}

func (e *RedirectError) Error() string { return "redirect to " + e.URL }

// Sentinel failures raised by stores and the definition graph.
var (
	// ErrDuplicate is returned when a record with the same id already exists.
	ErrDuplicate = errors.New("record already exists")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrReference is returned when a definition references a missing or
	// incompatible record.
	ErrReference = errors.New("invalid reference")

	// ErrFinalOverride is returned when a task definition overrides a
	// parameter its framework marked final.
	ErrFinalOverride = errors.New("final parameter overridden")

	// ErrMismatch is returned when a result report does not match the run
	// the controller believes to be active.
	ErrMismatch = errors.New("report does not match active run")
)

// IsInvalidRequest reports whether err belongs to the client-error family.
func IsInvalidRequest(err error) bool {
	var ir *InvalidRequestError
	if errors.As(err, &ir) {
		return true
	}
	return errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrReference) ||
		errors.Is(err, ErrFinalOverride) ||
		errors.Is(err, ErrMismatch)
}
