package lms

import (
	"errors"
	"fmt"
)

var (
	ErrNoBaseURL = errors.New("lms: base url missing")
	ErrNoToken   = errors.New("lms: access token missing")
	ErrNotFile   = errors.New("lms: item has no downloadable content")
	ErrNoURL     = errors.New("lms: item has no content url")
)

const (
	// Transient failures, safe to retry.
	CodeRateLimited  = "E_RATE_LIMITED"  // 429 from the source
	CodeServerError  = "E_SERVER_ERROR"  // 5xx from the source
	CodeNetworkError = "E_NETWORK_ERROR" // connection reset, timeout

	// Permanent failures, reported without retry.
	CodeAccessDenied = "E_ACCESS_DENIED" // 401/403
	CodeResourceGone = "E_RESOURCE_GONE" // 404/410, object vanished upstream
	CodeUnknownError = "E_UNKNOWN_ERR"
)

// SourceError is a classified failure from the content source.
type SourceError struct {
	Code    string
	Message string
	Status  int
}

func NewSourceError(code, message string, status int) *SourceError {
	return &SourceError{Code: code, Message: message, Status: status}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error: %s - %s", e.Code, e.Message)
}

// Retryable reports whether the failure is transient.
func (e *SourceError) Retryable() bool {
	switch e.Code {
	case CodeRateLimited, CodeServerError, CodeNetworkError:
		return true
	}
	return false
}

// classifyStatus maps an HTTP status code to a source error code.
func classifyStatus(status int) string {
	switch {
	case status == 429:
		return CodeRateLimited
	case status >= 500:
		return CodeServerError
	case status == 401 || status == 403:
		return CodeAccessDenied
	case status == 404 || status == 410:
		return CodeResourceGone
	default:
		return CodeUnknownError
	}
}
