package data

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// DefaultGeminiBaseURL is Gemini's OpenAI-compatible endpoint
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// geminiRepo implements the Generator over the OpenAI-compatible API
type geminiRepo struct {
	client *openai.Client
	model  string
}

// NewGeminiRepo creates a Generator bound to cfg
func NewGeminiRepo(cfg domain.GeminiConfig, baseURL string) (repo.Generator, error) {
	if !cfg.IsConfigured() {
		return nil, domain.ErrNotConfigured
	}
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = baseURL

	return &geminiRepo{
		client: openai.NewClientWithConfig(config),
		model:  cfg.ModelName,
	}, nil
}

// NewGeminiFactory returns a GeneratorFactory targeting baseURL
func NewGeminiFactory(baseURL string) repo.GeneratorFactory {
	return func(cfg domain.GeminiConfig) (repo.Generator, error) {
		return NewGeminiRepo(cfg, baseURL)
	}
}

// Generate sends one prompt and returns the text of the first choice.
// An empty string with a nil error means the model returned nothing.
func (r *geminiRepo) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyProviderError(err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(kindForStatus(apiErr.HTTPStatusCode), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewProviderError(kindForStatus(reqErr.HTTPStatusCode), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(domain.ProviderErrorNetwork, err)
	}

	if domain.IsRateLimit(err) {
		return domain.NewProviderError(domain.ProviderErrorRateLimit, err)
	}
	return domain.NewProviderError(domain.ProviderErrorOther, fmt.Errorf("chat completion: %w", err))
}

func kindForStatus(code int) domain.ProviderErrorKind {
	switch code {
	case http.StatusTooManyRequests:
		return domain.ProviderErrorRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ProviderErrorAuth
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.ProviderErrorNetwork
	default:
		return domain.ProviderErrorOther
	}
}
