// Package apierr defines the errors returned by the REST and WebSocket
// transports.
package apierr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// Error is an error with a HTTP status code.
type Error struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// New returns a new Error.
func New(code int, format string, a ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

// Unauthorized returns the error for a missing or invalid credential.
func Unauthorized() *Error {
	return New(http.StatusUnauthorized, "Unauthorized")
}

// Forbidden returns the error for an insufficient scope.
func Forbidden() *Error {
	return New(http.StatusForbidden, "Access is denied")
}

// Forbiddenf returns a forbidden error with the given message.
func Forbiddenf(format string, a ...interface{}) *Error {
	return New(http.StatusForbidden, format, a...)
}

// BadRequest returns a validation error.
func BadRequest(format string, a ...interface{}) *Error {
	return New(http.StatusBadRequest, format, a...)
}

// NotFound returns a not found error.
func NotFound(format string, a ...interface{}) *Error {
	return New(http.StatusNotFound, format, a...)
}

// Conflict returns the error for a duplicate unique name. It is reported
// as 403.
func Conflict(format string, a ...interface{}) *Error {
	return New(http.StatusForbidden, format, a...)
}

// MethodNotAllowed returns the error for a read-only resource.
func MethodNotAllowed() *Error {
	return New(http.StatusMethodNotAllowed, "Method not allowed")
}

// Internal returns the generic internal error.
func Internal() *Error {
	return New(http.StatusInternalServerError, "Internal server error")
}

var errToCode = map[error]int{
	storage.ErrDoesNotExist:     http.StatusNotFound,
	storage.ErrAlreadyExists:    http.StatusForbidden,
	storage.ErrInvalidReference: http.StatusBadRequest,
	storage.ErrInvalidSortField: http.StatusBadRequest,

	auth.ErrInvalidCredentials: http.StatusUnauthorized,
	auth.ErrInvalidToken:       http.StatusUnauthorized,
	auth.ErrInvalidTokenType:   http.StatusUnauthorized,
	auth.ErrTokenExpired:       http.StatusUnauthorized,
	auth.ErrUserInactive:       http.StatusUnauthorized,
}

// FromError returns the Error for err. Errors which are not known are
// reported as internal errors and IsInternal returns true for them.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	cause := errors.Cause(err)
	switch e := cause.(type) {
	case *Error:
		return e
	case *storage.ValidationError:
		return BadRequest("%s", e.Err.Error())
	}

	code, ok := errToCode[cause]
	if !ok {
		return Internal()
	}
	if code == http.StatusUnauthorized {
		return Unauthorized()
	}
	return New(code, "%s", cause.Error())
}

// IsInternal returns true when err does not map to a known error and
// must be logged by the caller.
func IsInternal(err error) bool {
	return FromError(err).Code == http.StatusInternalServerError
}
