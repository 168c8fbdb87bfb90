package silencex

import (
	"errors"
	"fmt"
)

// ValidationError indicates user-supplied input that can't be acted on,
// such as an emoji the bot can't use or a malformed account token.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// NotFoundError indicates a lookup that matched nothing, scoped to
// whatever the caller was allowed to see.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// PermissionError indicates the invoking user lacks the permission a
// command requires.
type PermissionError struct {
	Message string
}

func (e PermissionError) Error() string {
	return e.Message
}

// ExternalServiceError wraps a failure from an upstream service (the
// Discord REST API, the exchange-rate API, the gift-check service).
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e ExternalServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s request failed", e.Service)
	}
	return fmt.Sprintf("%s request failed: %s", e.Service, e.Err.Error())
}

func (e ExternalServiceError) Unwrap() error {
	return e.Err
}

// userFacingError returns the message to surface to the invoking user
// for the given error, and whether the error is one of the known
// user-facing kinds. Unknown errors get the generic failure message.
func userFacingError(err error) (string, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Message, true
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return notFoundErr.Error(), true
	}
	var permissionErr *PermissionError
	if errors.As(err, &permissionErr) {
		return permissionErr.Message, true
	}
	return genericErrorMessage, false
}

func isNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}
