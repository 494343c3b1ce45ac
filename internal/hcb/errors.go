package hcb

import (
	"errors"
	"fmt"
)

// ResolutionError is returned when a school code is unknown to the service.
type ResolutionError struct {
	SchoolCode string
}

// Error implements error.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("school code %q could not be resolved", e.SchoolCode)
}

// AuthError is returned when the service rejects the parent credentials.
type AuthError struct {
	Username string
}

// Error implements error.
func (e *AuthError) Error() string {
	return fmt.Sprintf("credentials rejected for user %q", e.Username)
}

// MalformedResponseError is returned when a response does not match the
// expected schema.
type MalformedResponseError struct {
	Action string
	Detail string
	Err    error
}

// Error implements error.
func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s response: %s: %v", e.Action, e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Action, e.Detail)
}

// Unwrap returns the underlying error.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// StatusError is returned for a non-successful HTTP status.
type StatusError struct {
	StatusCode int
	URL        string
	Message    string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// IsSessionError reports whether err means the school or parent ids are no
// longer accepted by the service.
func IsSessionError(err error) bool {
	var resErr *ResolutionError
	var authErr *AuthError
	return errors.As(err, &resErr) || errors.As(err, &authErr)
}
