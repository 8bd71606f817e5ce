package conf

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"DB_PATH", "API_PORT", "API_KEY", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_MAX_HISTORY",
		"GENERATE_TIMEOUT", "DEDUP_PRECHECK", "TEST_MODE", "FEISHU_APP_ID", "FEISHU_APP_SECRET",
		"FEISHU_SEND_QPS", "NOTIFICATION_RETENTION_DAYS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("PROMPTS_CONFIG", t.TempDir()+"/missing.yaml")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Contains(t, cfg.Storage.DBPath, "replybridge.db")
	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.Gemini.GenerateTimeout)
	assert.True(t, cfg.DedupPrecheck)
	assert.False(t, cfg.TestMode)
	assert.False(t, cfg.Feishu.Enabled())
	assert.Nil(t, cfg.SeedGeminiConfig())
	assert.Zero(t, cfg.Retention())
	assert.Equal(t, 50, cfg.Prompts.Limits.MaxWords)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/rb.db")
	t.Setenv("API_PORT", "9000")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv("GEMINI_MAX_HISTORY", "20")
	t.Setenv("GENERATE_TIMEOUT", "5s")
	t.Setenv("DEDUP_PRECHECK", "false")
	t.Setenv("NOTIFICATION_RETENTION_DAYS", "7")
	t.Setenv("PROMPTS_CONFIG", t.TempDir()+"/missing.yaml")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/rb.db", cfg.Storage.DBPath)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.False(t, cfg.DedupPrecheck)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())

	seed := cfg.SeedGeminiConfig()
	require.NotNil(t, seed)
	assert.Equal(t, "secret", seed.APIKey)
	assert.Equal(t, "gemini-1.5-pro", seed.ModelName)
	assert.Equal(t, 20, seed.MaxHistoryPerThread)

	reply := cfg.ToReplyConfig()
	assert.Equal(t, 5*time.Second, reply.GenerateTimeout)
	assert.False(t, reply.DedupPrecheck)
	assert.Equal(t, 50, reply.MaxWords)
	assert.Equal(t, 5*time.Second, cfg.ToAnalysisConfig().GenerateTimeout)
	assert.Equal(t, 15, cfg.ToRateLimiterConfig().MaxRequests)
	assert.Equal(t, 5, cfg.ToContextConfig().RecentPairs)
}

func TestLoadFromEnv_Malformed(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"API_PORT", "eighty"},
		{"GENERATE_TIMEOUT", "30"},
		{"DEDUP_PRECHECK", "maybe"},
		{"FEISHU_SEND_QPS", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.key, cerr.Field)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage: StorageConfig{DBPath: "x.db"},
			API:     APIConfig{Port: 8081},
			Gemini:  GeminiConfig{GenerateTimeout: time.Second},
		}
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.API.Port = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.Feishu.AppID = "cli_x"
	assert.Error(t, c.Validate())

	c = valid()
	c.Gemini.GenerateTimeout = 0
	assert.Error(t, c.Validate())
}

func TestConfig_NilPromptsUsesDefaults(t *testing.T) {
	c := &Config{}
	assert.Equal(t, DefaultPromptsConfig().Reply.DuplicateMessage, c.ToReplyConfig().DuplicateMessage)
}
