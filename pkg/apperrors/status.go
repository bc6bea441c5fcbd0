package apperrors

import (
	"errors"
	"net/http"
)

// StatusCode returns the HTTP status carried by err, or 0 if there is none.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether a caller may reasonably retry the failed call.
// Transport failures, 408, 429 and 5xx responses qualify; validation, protocol
// and other 4xx errors do not.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransport):
		return true
	case errors.Is(err, ErrService):
		code := StatusCode(err)
		return code == http.StatusRequestTimeout ||
			code == http.StatusTooManyRequests ||
			code >= http.StatusInternalServerError
	default:
		return false
	}
}
