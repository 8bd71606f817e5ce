package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConfigured        = errors.New("gemini is not configured: api key and model are required")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrEmptyResponse        = errors.New("empty response from model")
	ErrPersistence          = errors.New("failed to persist conversation history")
	ErrGeneration           = errors.New("failed to generate response")
)

// ProviderErrorKind classifies remote provider failures
type ProviderErrorKind string

const (
	ProviderErrorAuth      ProviderErrorKind = "auth"
	ProviderErrorNetwork   ProviderErrorKind = "network"
	ProviderErrorRateLimit ProviderErrorKind = "rate_limit"
	ProviderErrorOther     ProviderErrorKind = "other"
)

// ProviderError wraps an error returned by the remote model.
type ProviderError struct {
	Kind ProviderErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with a classification
func NewProviderError(kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

var rateLimitMarkers = []string{"resource exhausted", "429", "rate limit"}

// IsRateLimit reports whether err should be treated as a rate-limit rejection.
// Besides typed errors it falls back to matching the error text.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == ProviderErrorRateLimit {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ErrorClass returns a short stable label for err, used in logs and metrics.
func ErrorClass(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotConfigured):
		return "configuration"
	case errors.Is(err, ErrNotificationNotFound):
		return "not_found"
	case IsRateLimit(err):
		return "rate_limit"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.As(err, &pe):
		return "provider_" + string(pe.Kind)
	default:
		return "generation"
	}
}
