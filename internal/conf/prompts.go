package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PromptsConfig contains prompt texts and orchestration tunables loaded from YAML
type PromptsConfig struct {
	Reply    ReplyPrompts    `yaml:"reply"`
	Analysis AnalysisPrompts `yaml:"analysis"`
	Limits   LimitsConfig    `yaml:"limits"`

	// Path is the file the config was read from, empty for built-in defaults
	Path string `yaml:"-"`
}

// ReplyPrompts contains reply generation texts
type ReplyPrompts struct {
	DefaultTemplateName string `yaml:"default_template_name"`
	DefaultTemplate     string `yaml:"default_template"`
	DuplicateMessage    string `yaml:"duplicate_message"`
	RateLimitedMessage  string `yaml:"rate_limited_message"`
}

// AnalysisPrompts contains conversation analysis texts
type AnalysisPrompts struct {
	Template         string `yaml:"template"`
	NoHistoryMessage string `yaml:"no_history_message"`
	FallbackMessage  string `yaml:"fallback_message"`
}

// LimitsConfig contains timing and sizing knobs
type LimitsConfig struct {
	MaxWords         int           `yaml:"max_words"`
	TruncationMarker string        `yaml:"truncation_marker"`
	WordDelay        time.Duration `yaml:"word_delay"`
	RecentPairs      int           `yaml:"recent_pairs"`
	CoalesceWindow   time.Duration `yaml:"coalesce_window"`
	DedupTTL         time.Duration `yaml:"dedup_ttl"`
	ThrottleWindow   time.Duration `yaml:"throttle_window"`
	ResolveAttempts  int           `yaml:"resolve_attempts"`
	ResolveDelay     time.Duration `yaml:"resolve_delay"`
	RateLimit        RateLimit     `yaml:"rate_limit"`
}

// RateLimit contains sliding window admission settings
type RateLimit struct {
	Window         time.Duration `yaml:"window"`
	MaxRequests    int           `yaml:"max_requests"`
	Retries        int           `yaml:"retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// PromptsSearchPaths returns the candidate locations of prompts.yaml
func PromptsSearchPaths(configPath string) []string {
	if configPath != "" {
		return []string{configPath}
	}
	paths := []string{
		"configs/prompts.yaml",
		"/etc/replybridge/prompts.yaml",
	}
	if execPath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".replybridge", "prompts.yaml"))
	}
	return paths
}

// LoadPromptsConfig loads prompts configuration from YAML file.
// Built-in defaults are returned when no file is found.
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	var data []byte
	var loadedPath string

	for _, p := range PromptsSearchPaths(configPath) {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		return DefaultPromptsConfig(), nil
	}

	config, err := ParsePromptsConfig(data)
	if err != nil {
		return nil, err
	}
	config.Path = loadedPath
	return config, nil
}

// ParsePromptsConfig parses YAML and fills defaults for missing values
func ParsePromptsConfig(data []byte) (*PromptsConfig, error) {
	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}
	config.fillDefaults()
	if err := config.Limits.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks that the limits work together. A follow-up message must
// get past the throttle while the coalesce window is still open, otherwise
// it is stored but never answered.
func (l *LimitsConfig) Validate() error {
	if l.ThrottleWindow >= l.CoalesceWindow {
		return fmt.Errorf("limits.throttle_window (%s) must be shorter than limits.coalesce_window (%s)",
			l.ThrottleWindow, l.CoalesceWindow)
	}
	return nil
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	d := DefaultPromptsConfig()

	setDefault(&c.Reply.DefaultTemplateName, d.Reply.DefaultTemplateName)
	setDefault(&c.Reply.DefaultTemplate, d.Reply.DefaultTemplate)
	setDefault(&c.Reply.DuplicateMessage, d.Reply.DuplicateMessage)
	setDefault(&c.Reply.RateLimitedMessage, d.Reply.RateLimitedMessage)

	setDefault(&c.Analysis.Template, d.Analysis.Template)
	setDefault(&c.Analysis.NoHistoryMessage, d.Analysis.NoHistoryMessage)
	setDefault(&c.Analysis.FallbackMessage, d.Analysis.FallbackMessage)

	l, dl := &c.Limits, d.Limits
	setDefault(&l.MaxWords, dl.MaxWords)
	setDefault(&l.TruncationMarker, dl.TruncationMarker)
	setDefault(&l.WordDelay, dl.WordDelay)
	setDefault(&l.RecentPairs, dl.RecentPairs)
	setDefault(&l.CoalesceWindow, dl.CoalesceWindow)
	setDefault(&l.DedupTTL, dl.DedupTTL)
	setDefault(&l.ThrottleWindow, dl.ThrottleWindow)
	setDefault(&l.ResolveAttempts, dl.ResolveAttempts)
	setDefault(&l.ResolveDelay, dl.ResolveDelay)
	setDefault(&l.RateLimit.Window, dl.RateLimit.Window)
	setDefault(&l.RateLimit.MaxRequests, dl.RateLimit.MaxRequests)
	setDefault(&l.RateLimit.Retries, dl.RateLimit.Retries)
	setDefault(&l.RateLimit.InitialBackoff, dl.RateLimit.InitialBackoff)
	setDefault(&l.RateLimit.MaxBackoff, dl.RateLimit.MaxBackoff)
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Reply: ReplyPrompts{
			DefaultTemplateName: "Default Concise Response with Strong Memory",
			DefaultTemplate: `System: You are a helpful messaging assistant with excellent memory capabilities.
IMPORTANT: You must always remember user details like their name, preferences, and previous topics discussed.
When a user shares personal information (especially their name), store and recall it consistently in future interactions.
Respond in a friendly, concise manner (maximum 50 words).

Previous conversation history:
{context}

User: {message}
Assistant:`,
			DuplicateMessage:   "Already working on a reply to this message.",
			RateLimitedMessage: "I'm receiving a lot of messages right now. Please try again in a minute.",
		},
		Analysis: AnalysisPrompts{
			Template: `Analyze this conversation history and provide insights in the following format:

1. Next Steps:
- What actions should be taken next with this conversation?
- What business opportunities exist?

2. Follow-up Actions:
- Does this require follow-up contact?
- When and how should we follow up?

3. Negotiation Points:
- What negotiation strategies would be effective?
- What key points need to be addressed?

4. Suggested Reply:
- A short, professional message (max 2 sentences) to move the conversation forward based on the analysis.

Conversation History:
{context}

Provide a detailed but concise analysis focusing on actionable insights.`,
			NoHistoryMessage: "No conversation history to analyze.",
			FallbackMessage:  "Unable to generate analysis.",
		},
		Limits: LimitsConfig{
			MaxWords:         50,
			TruncationMarker: "...",
			WordDelay:        50 * time.Millisecond,
			RecentPairs:      5,
			CoalesceWindow:   time.Second,
			DedupTTL:         60 * time.Second,
			ThrottleWindow:   500 * time.Millisecond,
			ResolveAttempts:  3,
			ResolveDelay:     200 * time.Millisecond,
			RateLimit: RateLimit{
				Window:         60 * time.Second,
				MaxRequests:    15,
				Retries:        3,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
			},
		},
	}
}
