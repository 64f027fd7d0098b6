package shared

import (
	"errors"
	"fmt"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = fmt.Errorf("not found: %w", httpx.ErrNotFound)
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = fmt.Errorf("already exists: %w", httpx.ErrDuplicate)
	// ErrInvalidCredentials indicates a failed sign-in.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", httpx.ErrUnauthorized)
	// ErrCSRFTokenMissing occurs when no token was sent or stored.
	ErrCSRFTokenMissing = fmt.Errorf("csrf token missing: %w", httpx.ErrForbidden)
	// ErrCSRFTokenMismatch occurs when tokens differ.
	ErrCSRFTokenMismatch = fmt.Errorf("csrf token mismatch: %w", httpx.ErrForbidden)
)

// ValidationError carries a message that is safe to show to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return httpx.ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UserSafeMessage turns err into text suitable for a rendered page.
func UserSafeMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, httpx.ErrNotFound):
		return "The requested record was not found."
	case errors.Is(err, httpx.ErrDuplicate):
		return "A record with the same value already exists."
	case errors.Is(err, httpx.ErrForbidden):
		return "You are not allowed to perform this action."
	default:
		return "Something went wrong. Please try again."
	}
}

// FormErrors maps err onto form fields for re-rendering. Errors without a
// field land under "general".
func FormErrors(err error) map[string]string {
	errs := make(map[string]string)
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		errs[verr.Field] = verr.Message
		return errs
	}
	if err != nil {
		errs["general"] = UserSafeMessage(err)
	}
	return errs
}
