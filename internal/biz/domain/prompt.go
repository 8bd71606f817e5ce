package domain

import "time"

// Template placeholders
const (
	PlaceholderContext = "{context}"
	PlaceholderMessage = "{message}"
)

// PromptTemplate is a global reply template. At most one is active.
type PromptTemplate struct {
	ID        int64
	Name      string
	Template  string
	Active    bool
	CreatedAt time.Time
}

// ConversationPrompt overrides the global template for one conversation.
type ConversationPrompt struct {
	ConversationID string
	Name           string
	Template       string
	UpdatedAt      time.Time
}

// TemplateSource tells where a resolved template came from
type TemplateSource string

const (
	TemplateSourceConversation TemplateSource = "conversation"
	TemplateSourceActive       TemplateSource = "active"
	TemplateSourceDefault      TemplateSource = "default"
)

// ResolvedTemplate is the outcome of template resolution for a conversation.
type ResolvedTemplate struct {
	Name     string
	Template string
	Source   TemplateSource
}
