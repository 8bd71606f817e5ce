package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrRateLimited, true},
		{"wrapped sentinel", fmt.Errorf("reply: %w", ErrRateLimited), true},
		{"provider kind", NewProviderError(ProviderErrorRateLimit, errors.New("slow down")), true},
		{"resource exhausted text", errors.New("RESOURCE EXHAUSTED: quota"), true},
		{"429 text", errors.New("status 429"), true},
		{"rate limit text", errors.New("Rate limit reached"), true},
		{"auth", NewProviderError(ProviderErrorAuth, errors.New("bad key")), false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "configuration", ErrorClass(fmt.Errorf("x: %w", ErrNotConfigured)))
	assert.Equal(t, "not_found", ErrorClass(ErrNotificationNotFound))
	assert.Equal(t, "rate_limit", ErrorClass(ErrRateLimited))
	assert.Equal(t, "empty_response", ErrorClass(ErrEmptyResponse))
	assert.Equal(t, "provider_network", ErrorClass(NewProviderError(ProviderErrorNetwork, errors.New("dial"))))
	assert.Equal(t, "generation", ErrorClass(errors.New("boom")))
}

func TestProviderError_Unwrap(t *testing.T) {
	base := errors.New("dial tcp")
	err := fmt.Errorf("generate: %w", NewProviderError(ProviderErrorNetwork, base))
	assert.ErrorIs(t, err, base)
	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, ProviderErrorNetwork, pe.Kind)
}
