package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// ContextConfig contains context assembly configuration
type ContextConfig struct {
	RecentPairs  int           // message/response pairs rendered into the context
	RecentWindow time.Duration // window for ConversationContext.RecentMessages
	TestMode     bool          // synthesize a placeholder for unknown notifications
}

// DefaultContextConfig returns the default context configuration
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		RecentPairs:  5,
		RecentWindow: time.Second,
	}
}

// ContextBuilderUsecase assembles the conversation context of a notification
type ContextBuilderUsecase struct {
	notificationRepo repo.NotificationRepo
	historyRepo      repo.HistoryRepo
	cfg              ContextConfig
	now              func() time.Time
}

// NewContextBuilderUsecase creates a new context builder usecase
func NewContextBuilderUsecase(notificationRepo repo.NotificationRepo, historyRepo repo.HistoryRepo, cfg ContextConfig) *ContextBuilderUsecase {
	if cfg.RecentPairs <= 0 {
		cfg.RecentPairs = DefaultContextConfig().RecentPairs
	}
	return &ContextBuilderUsecase{
		notificationRepo: notificationRepo,
		historyRepo:      historyRepo,
		cfg:              cfg,
		now:              time.Now,
	}
}

// ResolveNotification loads a notification and lazily assigns its conversation id.
// Returns nil, nil when it does not exist (outside test mode).
func (uc *ContextBuilderUsecase) ResolveNotification(ctx context.Context, id int64) (*domain.Notification, error) {
	n, err := uc.notificationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		if uc.cfg.TestMode {
			return uc.placeholder(id), nil
		}
		return nil, nil
	}

	if !n.HasConversation() {
		convID := fallbackConversationID(n)
		assigned, err := uc.notificationRepo.AssignConversationID(ctx, id, convID)
		if err != nil {
			return nil, err
		}
		if !assigned {
			// someone else won; the stored id is authoritative
			return uc.notificationRepo.GetByID(ctx, id)
		}
		n.ConversationID = convID
	}
	return n, nil
}

// fallbackConversationID derives the thread id, or a per-notification id when
// the package is unknown
func fallbackConversationID(n *domain.Notification) string {
	if id := domain.GenerateConversationID(n.PackageName, n.Title); id != "" {
		return id
	}
	return fmt.Sprintf("notification_%d", n.ID)
}

func (uc *ContextBuilderUsecase) placeholder(id int64) *domain.Notification {
	return &domain.Notification{
		ID:             id,
		ConversationID: fmt.Sprintf("test_conversation_%d", id),
		PackageName:    "test",
		Title:          "Test",
		Content:        "Test message",
		Timestamp:      uc.now(),
	}
}

// BuildContext assembles thread id, participants, recent window and the
// formatted history block for a notification
func (uc *ContextBuilderUsecase) BuildContext(ctx context.Context, notificationID int64) (*domain.ConversationContext, error) {
	n, err := uc.ResolveNotification(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("resolve notification: %w", err)
	}
	if n == nil {
		return nil, fmt.Errorf("notification %d: %w", notificationID, domain.ErrNotificationNotFound)
	}
	return uc.BuildContextFor(ctx, n)
}

// BuildContextFor is BuildContext for an already resolved notification
func (uc *ContextBuilderUsecase) BuildContextFor(ctx context.Context, n *domain.Notification) (*domain.ConversationContext, error) {
	thread, err := uc.notificationRepo.ListThread(ctx, n.ConversationID, n.Timestamp, 0)
	if err != nil {
		return nil, fmt.Errorf("get thread history: %w", err)
	}

	contents := make([]string, 0, len(thread))
	var recent []domain.Notification
	windowStart := n.Timestamp.Add(-uc.cfg.RecentWindow)
	for _, m := range thread {
		contents = append(contents, m.Content)
		if !m.Timestamp.Before(windowStart) {
			recent = append(recent, m)
		}
	}
	// thread is newest first; keep recent chronological
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	pairs, err := uc.historyRepo.ListByConversation(ctx, n.ConversationID, uc.cfg.RecentPairs)
	if err != nil {
		return nil, fmt.Errorf("get conversation history: %w", err)
	}

	lastActivity := n.Timestamp
	if len(thread) > 0 && thread[0].Timestamp.After(lastActivity) {
		lastActivity = thread[0].Timestamp
	}

	participants := ExtractParticipants(contents)
	return &domain.ConversationContext{
		ThreadID:       n.ConversationID,
		LatestMessage:  n.Content,
		HistorySize:    len(thread),
		Participants:   participants,
		LastActivity:   lastActivity,
		RecentMessages: recent,
		Formatted:      FormatContext(n.ConversationID, len(thread), participants, pairs),
	}, nil
}

var (
	emailRe     = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}`)
	longDigitRe = regexp.MustCompile(`[0-9]{10,}`)
)

// ExtractParticipants collects email addresses and 10+ digit numbers found in
// the messages, deduplicated and sorted
func ExtractParticipants(messages []string) []string {
	seen := make(map[string]struct{})
	for _, msg := range messages {
		if strings.Contains(msg, "@") {
			for _, e := range emailRe.FindAllString(msg, -1) {
				seen[e] = struct{}{}
			}
		}
		for _, d := range longDigitRe.FindAllString(msg, -1) {
			seen[d] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for p := range seen {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// FormatContext renders the metadata block followed by the given pairs.
// pairs are newest first and rendered oldest first.
func FormatContext(threadID string, messageCount int, participants []string, pairs []domain.HistoryEntry) string {
	var sb strings.Builder

	sb.WriteString("Conversation Info:\n")
	sb.WriteString(fmt.Sprintf("- Thread ID: %s\n", threadID))
	sb.WriteString(fmt.Sprintf("- Messages: %d\n", messageCount))
	if len(participants) > 0 {
		sb.WriteString(fmt.Sprintf("- Participants: %s\n", strings.Join(participants, ", ")))
	}
	sb.WriteString("\n")

	if len(pairs) == 0 {
		sb.WriteString("No previous messages\n")
		return sb.String()
	}

	sb.WriteString("Recent Messages:\n")
	for i := len(pairs) - 1; i >= 0; i-- {
		sb.WriteString(fmt.Sprintf("User: %s\n", pairs[i].Message))
		sb.WriteString(fmt.Sprintf("Assistant: %s\n", pairs[i].Response))
		sb.WriteString("---\n")
	}
	return sb.String()
}
