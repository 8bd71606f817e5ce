package domain

import "time"

const (
	DefaultModelName           = "gemini-1.5-flash"
	DefaultMaxHistoryPerThread = 10
)

// GeminiConfig is the singleton remote model configuration.
type GeminiConfig struct {
	APIKey              string
	ModelName           string
	MaxHistoryPerThread int
	UpdatedAt           time.Time
}

// IsConfigured reports whether both key and model are present.
func (c *GeminiConfig) IsConfigured() bool {
	return c != nil && c.APIKey != "" && c.ModelName != ""
}

// HistoryCap returns the per-thread history cap, falling back to the default.
func (c *GeminiConfig) HistoryCap() int {
	if c == nil || c.MaxHistoryPerThread <= 0 {
		return DefaultMaxHistoryPerThread
	}
	return c.MaxHistoryPerThread
}

// MaskedKey returns the API key with all but the last 4 characters hidden.
func (c *GeminiConfig) MaskedKey() string {
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return "****" + c.APIKey[len(c.APIKey)-4:]
}
