package repo

import (
	"context"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
)

// HistoryRepo is the conversation history repository interface
type HistoryRepo interface {
	// InsertAndPrune inserts an entry and deletes all but the newest keep rows of
	// its conversation, in a single transaction.
	InsertAndPrune(ctx context.Context, entry *domain.HistoryEntry, keep int) (int64, error)

	// ListByConversation returns entries newest first. limit <= 0 means all.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error)

	// GetByID returns nil, nil when missing
	GetByID(ctx context.Context, id int64) (*domain.HistoryEntry, error)

	// UpdateResponse replaces a response and sets the modified flag
	UpdateResponse(ctx context.Context, id int64, response string) error

	// UpdateAnalysis stores an analysis on one entry
	UpdateAnalysis(ctx context.Context, id int64, analysis string, at time.Time) error

	// Count returns the number of entries of a conversation
	Count(ctx context.Context, conversationID string) (int, error)
}
