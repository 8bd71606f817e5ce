package repo

import (
	"context"

	"github.com/whatsuit/replybridge/internal/biz/domain"
)

// Generator is the remote generative-text provider.
// Errors are classified as *domain.ProviderError.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFactory builds a Generator bound to a configuration
type GeneratorFactory func(cfg domain.GeminiConfig) (Generator, error)

// Messenger delivers a reply back to the originating chat
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
}
