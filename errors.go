package account

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNotFound          = "ACCOUNT_NOT_FOUND"
	TextCodeUnknownEmail      = "UNKNOWN_EMAIL"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeUnauthorized      = "ACCOUNT_UNAUTHORIZED"
	TextCodeValidation        = "ACCOUNT_VALIDATION_FAILED"
	TextCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"
	TextCodeFatal             = "ACCOUNT_FATAL"
)

// NewNotFoundError is returned when an id, activation code or reset key
// does not resolve to a user.
func NewNotFoundError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithCode(goerrors.CodeNotFound)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// NewUnauthorizedError is returned for password changes without a reset key
// or a matching current password, and for private actions without an
// authenticated session.
func NewUnauthorizedError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(TextCodeUnauthorized).
		WithCode(goerrors.CodeUnauthorized)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func errUnknownEmail(email string) error {
	return goerrors.New("unknown user email", goerrors.CategoryNotFound).
		WithTextCode(TextCodeUnknownEmail).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"email": email})
}

func errTokenExpired(scope TokenScope) error {
	return goerrors.New("token has expired", goerrors.CategoryNotFound).
		WithTextCode(TextCodeTokenExpired).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"scope": string(scope)})
}

func errInvalidTransition(from, to State) error {
	return goerrors.New("invalid account state transition", goerrors.CategoryConflict).
		WithTextCode(TextCodeInvalidTransition).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{
			"from": string(from),
			"to":   string(to),
		})
}

// fatal wraps persistence and dispatch failures. Errors that are already
// rich (not found, unauthorized...) pass through untouched.
func fatal(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeFatal).
		WithCode(goerrors.CodeInternal)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

// IsValidation reports whether err carries field validation errors.
func IsValidation(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation)
}

// IsFatal reports whether err is a non recoverable persistence or
// notification failure.
func IsFatal(err error) bool {
	return hasCategory(err, goerrors.CategoryInternal)
}

// IsInvalidTransition reports whether err was raised by the state machine.
func IsInvalidTransition(err error) bool {
	return TextCode(err) == TextCodeInvalidTransition
}

// TextCode returns the text code of a rich error, or an empty string.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func hasCategory(err error, category goerrors.Category) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == category
}
