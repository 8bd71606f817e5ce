package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
)

// ErrServiceClosed is reported to callbacks submitted after Shutdown
var ErrServiceClosed = errors.New("auto-reply service is shut down")

const (
	outcomeSuccess   = "success"
	outcomeDuplicate = "duplicate"
)

// Callback receives the progress of one reply or analysis. Every job
// delivers zero or more partials followed by exactly one OnComplete or OnError.
type Callback interface {
	OnPartialResponse(text string)
	OnComplete(fullText string)
	OnError(err error)
}

// CallbackFuncs adapts plain functions to Callback; nil members are skipped
type CallbackFuncs struct {
	Partial  func(text string)
	Complete func(fullText string)
	Error    func(err error)
}

func (c CallbackFuncs) OnPartialResponse(text string) {
	if c.Partial != nil {
		c.Partial(text)
	}
}

func (c CallbackFuncs) OnComplete(fullText string) {
	if c.Complete != nil {
		c.Complete(fullText)
	}
}

func (c CallbackFuncs) OnError(err error) {
	if c.Error != nil {
		c.Error(err)
	}
}

// AutoReplyService runs replies and analyses in the background and delivers
// their results through callbacks
type AutoReplyService struct {
	reply     *usecase.ReplyUsecase
	analysis  *usecase.AnalysisUsecase
	readiness *usecase.ReadinessUsecase
	metrics   *Metrics
	log       zerolog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	dispatcher *dispatcher

	mu             sync.RWMutex
	closed         bool
	rateLimitedMsg string
}

// NewAutoReplyService creates a new auto-reply service
func NewAutoReplyService(
	reply *usecase.ReplyUsecase,
	analysis *usecase.AnalysisUsecase,
	readiness *usecase.ReadinessUsecase,
	metrics *Metrics,
	rateLimitedMsg string,
	log zerolog.Logger,
) *AutoReplyService {
	log = log.With().Str("component", "auto-reply").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoReplyService{
		reply:          reply,
		analysis:       analysis,
		readiness:      readiness,
		metrics:        metrics,
		log:            log,
		ctx:            ctx,
		cancel:         cancel,
		dispatcher:     newDispatcher(log),
		rateLimitedMsg: rateLimitedMsg,
	}
}

// EnsureReady initializes the model client, returning a configuration error when unset
func (s *AutoReplyService) EnsureReady(ctx context.Context) error {
	_, err := s.readiness.EnsureReady(ctx)
	return err
}

// Reinitialize rebuilds the model client from the stored config
func (s *AutoReplyService) Reinitialize(ctx context.Context) error {
	_, err := s.readiness.Reinitialize(ctx)
	return err
}

// ReadyState returns the model client state
func (s *AutoReplyService) ReadyState() usecase.ReadyState {
	return s.readiness.State()
}

// SetRateLimitedMessage replaces the completion sent when rate limited
func (s *AutoReplyService) SetRateLimitedMessage(msg string) {
	if msg == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitedMsg = msg
}

func (s *AutoReplyService) rateLimitedMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimitedMsg
}

// start registers a background job, false after Shutdown
func (s *AutoReplyService) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// GenerateReply starts a reply for a notification and returns its request id.
// An empty message falls back to the stored notification content.
func (s *AutoReplyService) GenerateReply(notificationID int64, message string, cb Callback) string {
	requestID := uuid.NewString()
	if !s.start() {
		cb.OnError(ErrServiceClosed)
		return requestID
	}

	go func() {
		defer s.wg.Done()
		s.runReply(requestID, notificationID, message, cb)
	}()
	return requestID
}

func (s *AutoReplyService) runReply(requestID string, notificationID int64, message string, cb Callback) {
	log := s.log.With().Str("request_id", requestID).Int64("notification_id", notificationID).Logger()
	start := time.Now()

	res, err := s.reply.Generate(s.ctx, usecase.ReplyRequest{
		NotificationID: notificationID,
		Message:        message,
		RequestID:      requestID,
	}, func(word string) {
		s.dispatcher.post(func() { cb.OnPartialResponse(word) })
	})
	if err != nil {
		s.metrics.observeReply(domain.ErrorClass(err), time.Since(start))
		s.deliverError(log, cb, err)
		return
	}

	outcome := outcomeSuccess
	if res.Duplicate {
		outcome = outcomeDuplicate
	}
	s.metrics.observeReply(outcome, time.Since(start))
	if res.PersistErr != nil {
		s.metrics.persistenceFailed()
	}

	text := res.Text
	s.dispatcher.post(func() { cb.OnComplete(text) })
}

// AnalyzeConversation starts an analysis of a conversation and returns its request id
func (s *AutoReplyService) AnalyzeConversation(conversationID string, cb Callback) string {
	requestID := uuid.NewString()
	if !s.start() {
		cb.OnError(ErrServiceClosed)
		return requestID
	}

	go func() {
		defer s.wg.Done()
		log := s.log.With().Str("request_id", requestID).Str("conversation_id", conversationID).Logger()

		res, err := s.analysis.Analyze(s.ctx, conversationID, requestID)
		if err != nil {
			s.metrics.observeAnalysis(domain.ErrorClass(err))
			s.deliverError(log, cb, err)
			return
		}
		s.metrics.observeAnalysis(outcomeSuccess)
		if res.PersistErr != nil {
			s.metrics.persistenceFailed()
		}
		text := res.Text
		s.dispatcher.post(func() { cb.OnComplete(text) })
	}()
	return requestID
}

// deliverError maps the error policy onto the callback: rate limits complete
// with a friendly message, everything else is reported through OnError
func (s *AutoReplyService) deliverError(log zerolog.Logger, cb Callback, err error) {
	if domain.IsRateLimit(err) {
		s.metrics.rateLimited()
		msg := s.rateLimitedMessage()
		log.Warn().Err(err).Msg("rate limited, sending fallback message")
		s.dispatcher.post(func() { cb.OnComplete(msg) })
		return
	}
	log.Error().Err(err).Str("class", domain.ErrorClass(err)).Msg("job failed")
	s.dispatcher.post(func() { cb.OnError(err) })
}

// Shutdown cancels in-flight work, waits for it to deliver its terminal
// callback and stops the dispatcher
func (s *AutoReplyService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.dispatcher.close()
	s.log.Info().Msg("auto-reply service stopped")
}
