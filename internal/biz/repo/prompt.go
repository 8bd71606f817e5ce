package repo

import (
	"context"

	"github.com/whatsuit/replybridge/internal/biz/domain"
)

// PromptRepo manages global templates and per-conversation overrides
type PromptRepo interface {
	// GetActiveTemplate returns nil, nil when no template is active
	GetActiveTemplate(ctx context.Context) (*domain.PromptTemplate, error)
	ListTemplates(ctx context.Context) ([]domain.PromptTemplate, error)
	CreateTemplate(ctx context.Context, t *domain.PromptTemplate) (int64, error)
	DeleteTemplate(ctx context.Context, id int64) error

	// SetActiveTemplate deactivates every template and activates id, atomically
	SetActiveTemplate(ctx context.Context, id int64) error

	// GetConversationPrompt returns nil, nil when no override exists
	GetConversationPrompt(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error)
	SaveConversationPrompt(ctx context.Context, p *domain.ConversationPrompt) error
	DeleteConversationPrompt(ctx context.Context, conversationID string) error
}

// ConfigRepo persists the remote model configuration singleton
type ConfigRepo interface {
	// Get returns nil, nil when nothing has been configured
	Get(ctx context.Context) (*domain.GeminiConfig, error)
	Save(ctx context.Context, cfg *domain.GeminiConfig) error
}
