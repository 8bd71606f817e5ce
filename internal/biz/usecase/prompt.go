package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// PromptUsecase resolves reply templates and manages their storage
type PromptUsecase struct {
	promptRepo repo.PromptRepo

	mu          sync.RWMutex
	defaultName string
	defaultText string
}

// NewPromptUsecase creates a new prompt usecase with a built-in default template
func NewPromptUsecase(promptRepo repo.PromptRepo, defaultName, defaultTemplate string) *PromptUsecase {
	return &PromptUsecase{
		promptRepo:  promptRepo,
		defaultName: defaultName,
		defaultText: defaultTemplate,
	}
}

// SetDefaultTemplate replaces the built-in default, e.g. after a config reload
func (uc *PromptUsecase) SetDefaultTemplate(name, template string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.defaultName = name
	uc.defaultText = template
}

// DefaultTemplate returns the built-in default
func (uc *PromptUsecase) DefaultTemplate() domain.ResolvedTemplate {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return domain.ResolvedTemplate{Name: uc.defaultName, Template: uc.defaultText, Source: domain.TemplateSourceDefault}
}

// ResolveTemplate picks the conversation override, else the active global
// template, else the built-in default
func (uc *PromptUsecase) ResolveTemplate(ctx context.Context, conversationID string) (domain.ResolvedTemplate, error) {
	if conversationID != "" {
		p, err := uc.promptRepo.GetConversationPrompt(ctx, conversationID)
		if err != nil {
			return domain.ResolvedTemplate{}, fmt.Errorf("get conversation prompt: %w", err)
		}
		if p != nil && strings.TrimSpace(p.Template) != "" {
			return domain.ResolvedTemplate{Name: p.Name, Template: p.Template, Source: domain.TemplateSourceConversation}, nil
		}
	}

	active, err := uc.promptRepo.GetActiveTemplate(ctx)
	if err != nil {
		return domain.ResolvedTemplate{}, fmt.Errorf("get active template: %w", err)
	}
	if active != nil {
		return domain.ResolvedTemplate{Name: active.Name, Template: active.Template, Source: domain.TemplateSourceActive}, nil
	}

	return uc.DefaultTemplate(), nil
}

// FillTemplate substitutes {context} and {message} literally.
// Placeholders appearing inside context are replaced as well.
func FillTemplate(template, contextText, message string) string {
	result := strings.ReplaceAll(template, domain.PlaceholderContext, contextText)
	return strings.ReplaceAll(result, domain.PlaceholderMessage, message)
}

// ListTemplates lists global templates
func (uc *PromptUsecase) ListTemplates(ctx context.Context) ([]domain.PromptTemplate, error) {
	return uc.promptRepo.ListTemplates(ctx)
}

// CreateTemplate validates and stores a global template
func (uc *PromptUsecase) CreateTemplate(ctx context.Context, t *domain.PromptTemplate) (int64, error) {
	if strings.TrimSpace(t.Name) == "" {
		return 0, fmt.Errorf("template name is required")
	}
	if err := ValidateTemplate(t.Template); err != nil {
		return 0, err
	}
	return uc.promptRepo.CreateTemplate(ctx, t)
}

// ActivateTemplate makes id the only active template
func (uc *PromptUsecase) ActivateTemplate(ctx context.Context, id int64) error {
	return uc.promptRepo.SetActiveTemplate(ctx, id)
}

// DeleteTemplate deletes a global template
func (uc *PromptUsecase) DeleteTemplate(ctx context.Context, id int64) error {
	return uc.promptRepo.DeleteTemplate(ctx, id)
}

// GetConversationPrompt returns the override of a conversation, nil if none
func (uc *PromptUsecase) GetConversationPrompt(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error) {
	return uc.promptRepo.GetConversationPrompt(ctx, conversationID)
}

// SetConversationPrompt stores a per-conversation override
func (uc *PromptUsecase) SetConversationPrompt(ctx context.Context, p *domain.ConversationPrompt) error {
	if p.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if err := ValidateTemplate(p.Template); err != nil {
		return err
	}
	return uc.promptRepo.SaveConversationPrompt(ctx, p)
}

// DeleteConversationPrompt removes a per-conversation override
func (uc *PromptUsecase) DeleteConversationPrompt(ctx context.Context, conversationID string) error {
	return uc.promptRepo.DeleteConversationPrompt(ctx, conversationID)
}

// ValidateTemplate requires the {message} placeholder
func ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template text is required")
	}
	if !strings.Contains(template, domain.PlaceholderMessage) {
		return fmt.Errorf("template must contain %s", domain.PlaceholderMessage)
	}
	return nil
}
