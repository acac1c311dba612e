// Package failure classifies pipeline errors into categories and derives the
// user facing text for them. Collaborator clients report *ExternalError so the
// classifier never has to parse raw messages when a status code is available.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

type Category string

const (
	RateLimit       Category = "rate_limit"
	NetworkError    Category = "network_error"
	Timeout         Category = "timeout"
	APIError        Category = "api_error"
	QuotaExceeded   Category = "quota_exceeded"
	ValidationError Category = "validation_error"
	ProcessingError Category = "processing_error"
	Unknown         Category = "unknown"
)

// Markers matched with errors.Is. Wrap a cause with Mark to tag it.
var (
	ErrRateLimit  = errors.New("rate limited")
	ErrNetwork    = errors.New("network failure")
	ErrTimeout    = errors.New("timeout")
	ErrAPI        = errors.New("api failure")
	ErrQuota      = errors.New("quota exceeded")
	ErrValidation = errors.New("validation error")
	ErrProcessing = errors.New("processing error")
)

// Codes written on error ledger entries that are not plain categories.
const (
	CodeAllFailed       = "ALL_FAILED"
	CodeInvalidURL      = "INVALID_URL"
	CodeLinkUnconfirmed = "LINK_UNCONFIRMED"
	CodeInterrupted     = "INTERRUPTED"
)

// ExternalError is the structured failure every collaborator client returns.
type ExternalError struct {
	Service    string
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *ExternalError) Error() string {
	var b strings.Builder
	b.WriteString(e.Service)
	if e.Operation != "" {
		b.WriteString(" ")
		b.WriteString(e.Operation)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExternalError) Unwrap() error { return e.Err }

// CodedError carries an explicit ledger code, category and retryability,
// overriding what Classify would infer from the cause.
type CodedError struct {
	Code      string
	Category  Category
	Retryable bool
	Err       error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return strings.ToLower(e.Code)
	}
	return fmt.Sprintf("%s: %v", strings.ToLower(e.Code), e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// Coded wraps err with an explicit code.
func Coded(code string, category Category, retryable bool, err error) error {
	return &CodedError{Code: code, Category: category, Retryable: retryable, Err: err}
}

// Mark tags err with a marker while keeping it in the chain.
func Mark(marker error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", marker, msg)
	}
	return fmt.Errorf("%w: %s: %w", marker, msg, err)
}

// Truncate bounds a response body kept for diagnostics.
func Truncate(body []byte, max int) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
