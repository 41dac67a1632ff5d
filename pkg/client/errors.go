package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents how a failed request should be handled.
type ErrorClass string

const (
	// ErrorClassTransient marks retryable failures: no response, 408, 429,
	// 5xx or an undecodable body.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassAuth marks 401/403. Fatal to the whole run.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient marks other 4xx responses. Fatal to the report and
	// facility pair only.
	ErrorClassClient ErrorClass = "client"
)

// Common errors returned by the client.
var (
	// ErrDecode is wrapped when a 2xx response body is not a valid page.
	ErrDecode = errors.New("undecodable response body")
)

// APIError is a failed page request with its classification.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s error: %s: %v", e.Class, e.Message, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status to an ErrorClass. Statuses below 400
// return "".
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorClassAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ErrorClassTransient
	case status >= 500:
		return ErrorClassTransient
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// Classify returns the class of err. Errors that did not come from an HTTP
// response are transient, except context cancellation which returns "".
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}
	return ErrorClassTransient
}

// IsFatalToRun reports whether err must cancel the whole run.
func IsFatalToRun(err error) bool {
	return Classify(err) == ErrorClassAuth
}
