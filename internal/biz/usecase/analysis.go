package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// AnalysisConfig contains conversation analysis configuration
type AnalysisConfig struct {
	Template         string // must contain {context}
	NoHistoryMessage string
	FallbackMessage  string

	RateLimitRetries      int
	RateLimitInitialDelay time.Duration
	GenerateTimeout       time.Duration
}

// AnalysisResult is a finished analysis
type AnalysisResult struct {
	RequestID      string
	ConversationID string
	Text           string
	Entries        int
	HistoryID      int64 // entry the analysis was stored on, 0 if none
	PersistErr     error
}

// AnalysisUsecase produces a conversation level analysis from stored history
type AnalysisUsecase struct {
	historyRepo repo.HistoryRepo
	readiness   *ReadinessUsecase
	limiter     *RateLimiter
	log         zerolog.Logger
	now         func() time.Time

	mu  sync.RWMutex
	cfg AnalysisConfig
}

// NewAnalysisUsecase creates a new analysis usecase
func NewAnalysisUsecase(historyRepo repo.HistoryRepo, readiness *ReadinessUsecase, limiter *RateLimiter, cfg AnalysisConfig, log zerolog.Logger) *AnalysisUsecase {
	if cfg.RateLimitRetries <= 0 {
		cfg.RateLimitRetries = 3
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 30 * time.Second
	}
	return &AnalysisUsecase{
		historyRepo: historyRepo,
		readiness:   readiness,
		limiter:     limiter,
		cfg:         cfg,
		log:         log.With().Str("component", "analysis").Logger(),
		now:         time.Now,
	}
}

// SetMessages replaces the analysis template and canned texts
func (uc *AnalysisUsecase) SetMessages(template, noHistory, fallback string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.cfg.Template = template
	uc.cfg.NoHistoryMessage = noHistory
	uc.cfg.FallbackMessage = fallback
}

func (uc *AnalysisUsecase) config() AnalysisConfig {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.cfg
}

// Analyze runs the analysis of one conversation and stores it on the newest history entry
func (uc *AnalysisUsecase) Analyze(ctx context.Context, conversationID, requestID string) (*AnalysisResult, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	cfg := uc.config()
	log := uc.log.With().Str("request_id", requestID).Str("conversation_id", conversationID).Logger()
	result := &AnalysisResult{RequestID: requestID, ConversationID: conversationID}

	if err := uc.limiter.Admit(ctx, cfg.RateLimitRetries, cfg.RateLimitInitialDelay); err != nil {
		if domain.IsRateLimit(err) {
			return nil, fmt.Errorf("admit analysis: %w", domain.ErrRateLimited)
		}
		return nil, err
	}

	handle, err := uc.readiness.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := uc.historyRepo.ListByConversation(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %w", domain.ErrGeneration, err)
	}
	result.Entries = len(entries)
	if len(entries) == 0 {
		result.Text = cfg.NoHistoryMessage
		return result, nil
	}

	prompt := strings.ReplaceAll(cfg.Template, domain.PlaceholderContext, FormatTranscript(entries))

	var text string
	err = uc.limiter.RetryWithBackoff(ctx, cfg.RateLimitRetries, cfg.RateLimitInitialDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, cfg.GenerateTimeout)
		defer cancel()
		t, err := handle.Generator.Generate(callCtx, prompt)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("class", domain.ErrorClass(err)).Msg("analysis failed")
		if domain.IsRateLimit(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn().Msg("model returned no analysis, storing fallback")
		text = cfg.FallbackMessage
	}
	result.Text = text

	newest := entries[0]
	if err := uc.historyRepo.UpdateAnalysis(ctx, newest.ID, text, uc.now()); err != nil {
		result.PersistErr = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		log.Error().Err(err).Int64("history_id", newest.ID).Msg("failed to store analysis")
	} else {
		result.HistoryID = newest.ID
	}

	log.Info().Int("entries", len(entries)).Msg("conversation analyzed")
	return result, nil
}

// FormatTranscript renders entries (newest first) as a chronological
// User/Assistant transcript separated by blank lines
func FormatTranscript(entries []domain.HistoryEntry) string {
	blocks := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		blocks = append(blocks, fmt.Sprintf("User: %s\nAssistant: %s", entries[i].Message, entries[i].Response))
	}
	return strings.Join(blocks, "\n\n")
}
