package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// SkipReason explains why an inbound message is not auto-replied
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipEmpty     SkipReason = "empty"
	SkipOptedOut  SkipReason = "opted_out"
	SkipThrottled SkipReason = "throttled"
	SkipEcho      SkipReason = "echo"
)

// NotificationUsecase handles notification intake, auto-reply gating and history edits
type NotificationUsecase struct {
	notificationRepo repo.NotificationRepo
	historyRepo      repo.HistoryRepo
	optOutRepo       repo.OptOutRepo
	throttle         *ConversationThrottle
	echo             *EchoGuard
	log              zerolog.Logger
	now              func() time.Time
}

// NewNotificationUsecase creates a new notification usecase
func NewNotificationUsecase(
	notificationRepo repo.NotificationRepo,
	historyRepo repo.HistoryRepo,
	optOutRepo repo.OptOutRepo,
	throttle *ConversationThrottle,
	echo *EchoGuard,
	log zerolog.Logger,
) *NotificationUsecase {
	return &NotificationUsecase{
		notificationRepo: notificationRepo,
		historyRepo:      historyRepo,
		optOutRepo:       optOutRepo,
		throttle:         throttle,
		echo:             echo,
		log:              log.With().Str("component", "notification").Logger(),
		now:              time.Now,
	}
}

// Ingest stores a notification, assigning its conversation id if missing
func (uc *NotificationUsecase) Ingest(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if strings.TrimSpace(n.Content) == "" {
		return nil, fmt.Errorf("notification content is required")
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = uc.now()
	}
	if !n.HasConversation() {
		// unknown packages get their id lazily, once the row id exists
		n.ConversationID = domain.GenerateConversationID(n.PackageName, n.Title)
	}

	id, err := uc.notificationRepo.Save(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}
	n.ID = id

	uc.log.Debug().
		Int64("notification_id", id).
		Str("conversation_id", n.ConversationID).
		Str("package", n.PackageName).
		Msg("notification stored")
	return n, nil
}

// Get returns a notification or ErrNotificationNotFound
func (uc *NotificationUsecase) Get(ctx context.Context, id int64) (*domain.Notification, error) {
	n, err := uc.notificationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("notification %d: %w", id, domain.ErrNotificationNotFound)
	}
	return n, nil
}

// Delete removes a notification and, through the cascade, its history
func (uc *NotificationUsecase) Delete(ctx context.Context, id int64) error {
	return uc.notificationRepo.Delete(ctx, id)
}

// ShouldAutoReply decides whether an inbound message gets an automatic reply.
// A positive answer claims the conversation for the throttle window.
func (uc *NotificationUsecase) ShouldAutoReply(ctx context.Context, conversationID, text string) (SkipReason, error) {
	if strings.TrimSpace(text) == "" {
		return SkipEmpty, nil
	}
	if uc.echo != nil && uc.echo.IsEcho(text) {
		return SkipEcho, nil
	}
	opted, err := uc.optOutRepo.IsOptedOut(ctx, conversationID)
	if err != nil {
		return SkipNone, fmt.Errorf("failed to check opt-out: %w", err)
	}
	if opted {
		return SkipOptedOut, nil
	}
	if uc.throttle != nil && !uc.throttle.Acquire(conversationID) {
		return SkipThrottled, nil
	}
	return SkipNone, nil
}

// RecordAutoReply remembers a sent reply for echo detection and marks the notification
func (uc *NotificationUsecase) RecordAutoReply(ctx context.Context, id int64, reply string) error {
	if uc.echo != nil {
		uc.echo.Record(reply)
	}
	return uc.notificationRepo.MarkAutoReplied(ctx, id, reply)
}

// OptOut excludes a conversation from auto-reply
func (uc *NotificationUsecase) OptOut(ctx context.Context, conversationID string) error {
	return uc.optOutRepo.OptOut(ctx, conversationID)
}

// OptIn re-enables auto-reply for a conversation
func (uc *NotificationUsecase) OptIn(ctx context.Context, conversationID string) error {
	return uc.optOutRepo.OptIn(ctx, conversationID)
}

// ListOptOuts lists excluded conversations
func (uc *NotificationUsecase) ListOptOuts(ctx context.Context) ([]domain.AutoReplyOptOut, error) {
	return uc.optOutRepo.List(ctx)
}

// ListHistory returns history entries of a conversation, newest first
func (uc *NotificationUsecase) ListHistory(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	return uc.historyRepo.ListByConversation(ctx, conversationID, limit)
}

// EditResponse replaces a stored response; the entry is flagged as modified
func (uc *NotificationUsecase) EditResponse(ctx context.Context, historyID int64, response string) (*domain.HistoryEntry, error) {
	if strings.TrimSpace(response) == "" {
		return nil, fmt.Errorf("response is required")
	}
	if err := uc.historyRepo.UpdateResponse(ctx, historyID, response); err != nil {
		return nil, err
	}
	return uc.historyRepo.GetByID(ctx, historyID)
}

// CleanupOlderThan deletes notifications older than retention
func (uc *NotificationUsecase) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := uc.notificationRepo.DeleteOlderThan(ctx, uc.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup notifications: %w", err)
	}
	if n > 0 {
		uc.log.Info().Int64("deleted", n).Dur("retention", retention).Msg("old notifications removed")
	}
	return n, nil
}
