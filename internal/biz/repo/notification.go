package repo

import (
	"context"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
)

// NotificationRepo is the notification repository interface
// Responsible for notification persistence (SQLite)
type NotificationRepo interface {
	// Save stores a new notification and returns its id
	Save(ctx context.Context, n *domain.Notification) (int64, error)

	// GetByID returns nil, nil when the notification does not exist
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)

	// AssignConversationID sets the conversation id only if none is set yet.
	// Returns false when an id was already present.
	AssignConversationID(ctx context.Context, id int64, conversationID string) (bool, error)

	// ListThread returns notifications of a conversation with timestamp <= until, newest first.
	// limit <= 0 means no limit.
	ListThread(ctx context.Context, conversationID string, until time.Time, limit int) ([]domain.Notification, error)

	// ListSince returns notifications of a conversation with timestamp >= since, oldest first
	ListSince(ctx context.Context, conversationID string, since time.Time) ([]domain.Notification, error)

	// MarkAutoReplied records the reply sent for a notification
	MarkAutoReplied(ctx context.Context, id int64, reply string) error

	// Delete removes a notification; its history entries cascade
	Delete(ctx context.Context, id int64) error

	// DeleteOlderThan removes notifications received before t
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// OptOutRepo stores conversations excluded from auto-reply
type OptOutRepo interface {
	IsOptedOut(ctx context.Context, conversationID string) (bool, error)
	OptOut(ctx context.Context, conversationID string) error
	OptIn(ctx context.Context, conversationID string) error
	List(ctx context.Context) ([]domain.AutoReplyOptOut, error)
}
