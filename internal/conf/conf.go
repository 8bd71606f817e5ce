package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
	"github.com/whatsuit/replybridge/internal/logx"
)

// Config represents application configuration
type Config struct {
	// Storage configuration
	Storage StorageConfig

	// HTTP API configuration
	API APIConfig

	// Logging configuration
	Log logx.Config

	// Gemini configuration, seeds the stored config row when set
	Gemini GeminiConfig

	// Feishu configuration (optional notification source)
	Feishu FeishuConfig

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig

	// DedupPrecheck short-circuits replies for ids already in flight
	DedupPrecheck bool

	// TestMode synthesizes placeholder notifications for unknown ids
	TestMode bool
}

// StorageConfig contains database configuration
type StorageConfig struct {
	DBPath        string
	RetentionDays int // 0 keeps notifications forever
}

// APIConfig contains HTTP API configuration
type APIConfig struct {
	Port int
	Key  string // optional bearer token
}

// GeminiConfig contains remote model settings from the environment
type GeminiConfig struct {
	APIKey          string
	Model           string
	MaxHistory      int
	BaseURL         string
	GenerateTimeout time.Duration
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
	SendQPS   float64
}

// Enabled reports whether the Feishu source should start
func (c FeishuConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// LoadFromEnv loads configuration from environment variables.
// Malformed values are reported as *ConfigError.
func LoadFromEnv() (*Config, error) {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".replybridge", "replybridge.db")
	}

	apiPort, err := envInt("API_PORT", 8081)
	if err != nil {
		return nil, err
	}
	maxHistory, err := envInt("GEMINI_MAX_HISTORY", 0)
	if err != nil {
		return nil, err
	}
	retentionDays, err := envInt("NOTIFICATION_RETENTION_DAYS", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := envDuration("GENERATE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	sendQPS, err := envFloat("FEISHU_SEND_QPS", 5)
	if err != nil {
		return nil, err
	}
	dedupPrecheck, err := envBool("DEDUP_PRECHECK", true)
	if err != nil {
		return nil, err
	}
	testMode, err := envBool("TEST_MODE", false)
	if err != nil {
		return nil, err
	}

	// Load prompts from YAML
	promptsConfig, err := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG"))
	if err != nil {
		return nil, &ConfigError{Field: "PROMPTS_CONFIG", Message: err.Error()}
	}

	return &Config{
		Storage: StorageConfig{
			DBPath:        dbPath,
			RetentionDays: retentionDays,
		},
		API: APIConfig{
			Port: apiPort,
			Key:  os.Getenv("API_KEY"),
		},
		Log: logx.Config{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
		},
		Gemini: GeminiConfig{
			APIKey:          os.Getenv("GEMINI_API_KEY"),
			Model:           os.Getenv("GEMINI_MODEL"),
			MaxHistory:      maxHistory,
			BaseURL:         os.Getenv("GEMINI_BASE_URL"),
			GenerateTimeout: timeout,
		},
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
			SendQPS:   sendQPS,
		},
		Prompts:       promptsConfig,
		DedupPrecheck: dedupPrecheck,
		TestMode:      testMode,
	}, nil
}

func envInt(key string, def int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be an integer"}
	}
	return parsed, nil
}

func envFloat(key string, def float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a number"}
	}
	return parsed, nil
}

func envBool(key string, def bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, &ConfigError{Field: key, Message: "must be true or false"}
	}
	return parsed, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a duration such as 30s"}
	}
	return parsed, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return &ConfigError{Field: "DB_PATH", Message: "required"}
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return &ConfigError{Field: "API_PORT", Message: "must be between 1 and 65535"}
	}
	if c.Gemini.GenerateTimeout <= 0 {
		return &ConfigError{Field: "GENERATE_TIMEOUT", Message: "must be positive"}
	}
	if c.Gemini.MaxHistory < 0 {
		return &ConfigError{Field: "GEMINI_MAX_HISTORY", Message: "must not be negative"}
	}
	if c.Storage.RetentionDays < 0 {
		return &ConfigError{Field: "NOTIFICATION_RETENTION_DAYS", Message: "must not be negative"}
	}
	if (c.Feishu.AppID == "") != (c.Feishu.AppSecret == "") {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "both or neither must be set"}
	}
	return nil
}

// Retention returns the notification retention period, 0 when disabled
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}

// SeedGeminiConfig returns the config row described by the environment,
// nil when no API key is set
func (c *Config) SeedGeminiConfig() *domain.GeminiConfig {
	if c.Gemini.APIKey == "" {
		return nil
	}
	cfg := &domain.GeminiConfig{
		APIKey:              c.Gemini.APIKey,
		ModelName:           c.Gemini.Model,
		MaxHistoryPerThread: c.Gemini.MaxHistory,
	}
	if cfg.ModelName == "" {
		cfg.ModelName = domain.DefaultModelName
	}
	if cfg.MaxHistoryPerThread == 0 {
		cfg.MaxHistoryPerThread = domain.DefaultMaxHistoryPerThread
	}
	return cfg
}

func (c *Config) prompts() *PromptsConfig {
	if c.Prompts == nil {
		return DefaultPromptsConfig()
	}
	return c.Prompts
}

// ToReplyConfig converts to reply usecase configuration
func (c *Config) ToReplyConfig() usecase.ReplyConfig {
	p := c.prompts()
	return usecase.ReplyConfig{
		MaxWords:              p.Limits.MaxWords,
		TruncationMarker:      p.Limits.TruncationMarker,
		WordDelay:             p.Limits.WordDelay,
		CoalesceWindow:        p.Limits.CoalesceWindow,
		ResolveAttempts:       p.Limits.ResolveAttempts,
		ResolveDelay:          p.Limits.ResolveDelay,
		RateLimitRetries:      p.Limits.RateLimit.Retries,
		RateLimitInitialDelay: p.Limits.RateLimit.InitialBackoff,
		GenerateTimeout:       c.Gemini.GenerateTimeout,
		DedupPrecheck:         c.DedupPrecheck,
		DuplicateMessage:      p.Reply.DuplicateMessage,
	}
}

// ToContextConfig converts to context builder configuration
func (c *Config) ToContextConfig() usecase.ContextConfig {
	p := c.prompts()
	return usecase.ContextConfig{
		RecentPairs:  p.Limits.RecentPairs,
		RecentWindow: p.Limits.CoalesceWindow,
		TestMode:     c.TestMode,
	}
}

// ToRateLimiterConfig converts to rate limiter configuration
func (c *Config) ToRateLimiterConfig() usecase.RateLimiterConfig {
	p := c.prompts()
	return usecase.RateLimiterConfig{
		Window:      p.Limits.RateLimit.Window,
		MaxRequests: p.Limits.RateLimit.MaxRequests,
		MaxBackoff:  p.Limits.RateLimit.MaxBackoff,
	}
}

// ToAnalysisConfig converts to analysis usecase configuration
func (c *Config) ToAnalysisConfig() usecase.AnalysisConfig {
	p := c.prompts()
	return usecase.AnalysisConfig{
		Template:              p.Analysis.Template,
		NoHistoryMessage:      p.Analysis.NoHistoryMessage,
		FallbackMessage:       p.Analysis.FallbackMessage,
		RateLimitRetries:      p.Limits.RateLimit.Retries,
		RateLimitInitialDelay: p.Limits.RateLimit.InitialBackoff,
		GenerateTimeout:       c.Gemini.GenerateTimeout,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
