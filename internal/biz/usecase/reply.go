package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// ReplyConfig contains reply generation configuration
type ReplyConfig struct {
	MaxWords         int
	TruncationMarker string
	WordDelay        time.Duration

	CoalesceWindow time.Duration

	ResolveAttempts int
	ResolveDelay    time.Duration

	RateLimitRetries      int
	RateLimitInitialDelay time.Duration

	GenerateTimeout time.Duration

	// DedupPrecheck short-circuits requests for an id that is still in flight
	DedupPrecheck    bool
	DuplicateMessage string
}

// DefaultReplyConfig returns the default reply configuration
func DefaultReplyConfig() ReplyConfig {
	return ReplyConfig{
		MaxWords:              50,
		TruncationMarker:      "...",
		WordDelay:             50 * time.Millisecond,
		CoalesceWindow:        time.Second,
		ResolveAttempts:       3,
		ResolveDelay:          200 * time.Millisecond,
		RateLimitRetries:      3,
		RateLimitInitialDelay: time.Second,
		GenerateTimeout:       30 * time.Second,
		DedupPrecheck:         true,
		DuplicateMessage:      "Already working on a reply to this message.",
	}
}

// ReplyRequest asks for a reply to one notification
type ReplyRequest struct {
	NotificationID int64
	Message        string
	RequestID      string
}

// ReplyResult describes a finished reply
type ReplyResult struct {
	RequestID      string
	NotificationID int64
	ConversationID string
	Text           string
	Truncated      bool
	Duplicate      bool
	Coalesced      bool
	TemplateSource domain.TemplateSource
	HistoryID      int64
	PersistErr     error
	Latency        time.Duration
}

// ReplyUsecase turns a notification into a streamed, persisted reply
type ReplyUsecase struct {
	notificationRepo repo.NotificationRepo
	historyRepo      repo.HistoryRepo
	builder          *ContextBuilderUsecase
	prompts          *PromptUsecase
	readiness        *ReadinessUsecase
	limiter          *RateLimiter
	dedup            *Deduper
	cfg              ReplyConfig
	log              zerolog.Logger

	mu           sync.RWMutex
	duplicateMsg string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReplyUsecase creates a new reply usecase
func NewReplyUsecase(
	notificationRepo repo.NotificationRepo,
	historyRepo repo.HistoryRepo,
	builder *ContextBuilderUsecase,
	prompts *PromptUsecase,
	readiness *ReadinessUsecase,
	limiter *RateLimiter,
	dedup *Deduper,
	cfg ReplyConfig,
	log zerolog.Logger,
) *ReplyUsecase {
	def := DefaultReplyConfig()
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = def.MaxWords
	}
	if cfg.ResolveAttempts <= 0 {
		cfg.ResolveAttempts = def.ResolveAttempts
	}
	if cfg.RateLimitRetries <= 0 {
		cfg.RateLimitRetries = def.RateLimitRetries
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = def.GenerateTimeout
	}
	if cfg.DuplicateMessage == "" {
		cfg.DuplicateMessage = def.DuplicateMessage
	}
	return &ReplyUsecase{
		notificationRepo: notificationRepo,
		historyRepo:      historyRepo,
		builder:          builder,
		prompts:          prompts,
		readiness:        readiness,
		limiter:          limiter,
		dedup:            dedup,
		cfg:              cfg,
		duplicateMsg:     cfg.DuplicateMessage,
		log:              log.With().Str("component", "reply").Logger(),
		now:              time.Now,
		sleep:            sleepContext,
	}
}

// SetDuplicateMessage replaces the text returned for in-flight duplicates
func (uc *ReplyUsecase) SetDuplicateMessage(msg string) {
	if msg == "" {
		return
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.duplicateMsg = msg
}

func (uc *ReplyUsecase) duplicateMessage() string {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.duplicateMsg
}

var errNotStoredYet = errors.New("notification not stored yet")

// wordSpace matches the \s class of wordRe
const wordSpace = "\t\n\f\r "

var wordRe = regexp.MustCompile(`\S+\s*`)

// Generate runs the full reply flow. Each word is passed to onPartial as it is
// released; the returned result carries the complete text.
func (uc *ReplyUsecase) Generate(ctx context.Context, req ReplyRequest, onPartial func(string)) (*ReplyResult, error) {
	start := uc.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := uc.log.With().Str("request_id", req.RequestID).Int64("notification_id", req.NotificationID).Logger()
	result := &ReplyResult{RequestID: req.RequestID, NotificationID: req.NotificationID}

	// 1. best-effort duplicate pre-check
	if uc.cfg.DedupPrecheck && uc.dedup.InFlight(req.NotificationID) {
		log.Info().Msg("notification already in flight, skipping")
		result.Duplicate = true
		result.Text = uc.duplicateMessage()
		return result, nil
	}

	// 2. resolve the notification, it may still be on its way to the store
	n, err := uc.resolveWithRetry(ctx, req.NotificationID)
	if err != nil {
		return nil, err
	}
	result.ConversationID = n.ConversationID
	log = log.With().Str("conversation_id", n.ConversationID).Logger()

	// 3. merge rapid-fire messages
	message := req.Message
	if strings.TrimSpace(message) == "" {
		message = n.Content
	}
	effective, coalesced, err := uc.coalesce(ctx, n, message)
	if err != nil {
		return nil, err
	}
	result.Coalesced = coalesced

	// 4. register for duplicate suppression
	uc.dedup.Register(req.NotificationID)

	// 5. admission
	if err := uc.limiter.Admit(ctx, uc.cfg.RateLimitRetries, uc.cfg.RateLimitInitialDelay); err != nil {
		if domain.IsRateLimit(err) {
			log.Warn().Msg("rate limit exceeded")
			return nil, fmt.Errorf("admit reply: %w", domain.ErrRateLimited)
		}
		return nil, err
	}

	// 6. readiness
	handle, err := uc.readiness.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	// 7. context and prompt
	convCtx, err := uc.builder.BuildContextFor(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%w: build context: %w", domain.ErrGeneration, err)
	}
	tmpl, err := uc.prompts.ResolveTemplate(ctx, n.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve template: %w", domain.ErrGeneration, err)
	}
	result.TemplateSource = tmpl.Source
	prompt := FillTemplate(tmpl.Template, convCtx.Formatted, effective)

	// 8. remote call
	text, err := uc.callModel(ctx, handle, prompt)
	if err != nil {
		log.Error().Err(err).Str("class", domain.ErrorClass(err)).Msg("generation failed")
		return nil, err
	}

	// 9. truncate
	words, truncated := LimitWords(text, uc.cfg.MaxWords, uc.cfg.TruncationMarker)
	result.Truncated = truncated

	// 10. stream
	if err := uc.stream(ctx, words, onPartial); err != nil {
		return nil, err
	}
	result.Text = strings.TrimSpace(strings.Join(words, ""))

	// 11-12. persist and prune, failures never fail the reply
	entry := &domain.HistoryEntry{
		ConversationID: n.ConversationID,
		NotificationID: n.ID,
		Message:        effective,
		Response:       result.Text,
		Timestamp:      uc.now(),
	}
	id, perr := uc.historyRepo.InsertAndPrune(ctx, entry, handle.Config.HistoryCap())
	if perr != nil {
		result.PersistErr = fmt.Errorf("%w: %w", domain.ErrPersistence, perr)
		log.Error().Err(perr).Msg("failed to persist history")
	} else {
		result.HistoryID = id
	}

	result.Latency = uc.now().Sub(start)
	log.Info().
		Bool("truncated", truncated).
		Bool("coalesced", coalesced).
		Str("template", string(tmpl.Source)).
		Dur("latency", result.Latency).
		Msg("reply generated")
	return result, nil
}

func (uc *ReplyUsecase) resolveWithRetry(ctx context.Context, id int64) (*domain.Notification, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = uc.cfg.ResolveDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(uc.cfg.ResolveAttempts-1)), ctx)

	var n *domain.Notification
	err := backoff.Retry(func() error {
		found, err := uc.builder.ResolveNotification(ctx, id)
		if err != nil {
			return err
		}
		if found == nil {
			return errNotStoredYet
		}
		n = found
		return nil
	}, b)
	if errors.Is(err, errNotStoredYet) {
		return nil, fmt.Errorf("notification %d: %w", id, domain.ErrNotificationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve notification %d: %w", id, err)
	}
	return n, nil
}

// coalesce joins the thread's messages that arrived within one window of
// each other. Once triggered it waits a full window before re-reading.
func (uc *ReplyUsecase) coalesce(ctx context.Context, n *domain.Notification, message string) (string, bool, error) {
	window := uc.cfg.CoalesceWindow
	if window <= 0 {
		return message, false, nil
	}

	now := uc.now()
	since := now.Add(-window)
	recent, err := uc.notificationRepo.ListSince(ctx, n.ConversationID, since)
	if err != nil {
		uc.log.Warn().Err(err).Msg("coalesce lookup failed, using single message")
		return message, false, nil
	}
	if len(recent) <= 1 || now.Sub(recent[len(recent)-1].Timestamp) >= window {
		return message, false, nil
	}

	if err := uc.sleep(ctx, window); err != nil {
		return "", false, err
	}

	recent, err = uc.notificationRepo.ListSince(ctx, n.ConversationID, since)
	if err != nil || len(recent) == 0 {
		return message, false, nil
	}
	bodies := make([]string, 0, len(recent))
	for _, m := range recent {
		bodies = append(bodies, m.Content)
	}
	return strings.Join(bodies, "\n"), true, nil
}

func (uc *ReplyUsecase) callModel(ctx context.Context, handle *ModelHandle, prompt string) (string, error) {
	var text string
	err := uc.limiter.RetryWithBackoff(ctx, uc.cfg.RateLimitRetries, uc.cfg.RateLimitInitialDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, uc.cfg.GenerateTimeout)
		defer cancel()
		t, err := handle.Generator.Generate(callCtx, prompt)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		if domain.IsRateLimit(err) {
			return "", fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrEmptyResponse
	}
	return text, nil
}

// stream releases one word at a time, pacing with WordDelay
func (uc *ReplyUsecase) stream(ctx context.Context, words []string, onPartial func(string)) error {
	for i, w := range words {
		if onPartial != nil {
			// every piece but the last still carries its separator
			if i == len(words)-1 {
				w += " "
			}
			onPartial(w)
		}
		if i < len(words)-1 && uc.cfg.WordDelay > 0 {
			if err := uc.sleep(ctx, uc.cfg.WordDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// LimitWords splits text into words and keeps at most max of them. Each
// piece keeps the whitespace that followed the word, so joining the pieces
// reproduces the text. When words were dropped the marker is appended to the
// last kept word.
func LimitWords(text string, max int, marker string) ([]string, bool) {
	pieces := wordRe.FindAllString(text, -1)
	truncated := max > 0 && len(pieces) > max
	if truncated {
		pieces = pieces[:max:max]
		pieces[max-1] = strings.TrimRight(pieces[max-1], wordSpace) + marker
	}
	if n := len(pieces); n > 0 {
		pieces[n-1] = strings.TrimRight(pieces[n-1], wordSpace)
	}
	return pieces, truncated
}
