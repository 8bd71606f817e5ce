package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
	"github.com/whatsuit/replybridge/internal/infra/feishu"
	"github.com/whatsuit/replybridge/internal/service"
)

const (
	feishuPackage   = "com.feishu"
	seenMessagesTTL = 5 * time.Minute
	sendTimeout     = 15 * time.Second
)

// MessageSource delivers inbound chat messages
type MessageSource interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
}

// FeishuServer turns Feishu chat messages into notifications and answers them
type FeishuServer struct {
	source        MessageSource
	messenger     repo.Messenger
	notifications *usecase.NotificationUsecase
	replies       *service.AutoReplyService
	metrics       *service.Metrics
	log           zerolog.Logger

	// Feishu redelivers events that were not acknowledged in time
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(
	source MessageSource,
	messenger repo.Messenger,
	notifications *usecase.NotificationUsecase,
	replies *service.AutoReplyService,
	metrics *service.Metrics,
	log zerolog.Logger,
) *FeishuServer {
	return &FeishuServer{
		source:        source,
		messenger:     messenger,
		notifications: notifications,
		replies:       replies,
		metrics:       metrics,
		log:           log.With().Str("component", "feishu-server").Logger(),
		seenMsgs:      make(map[string]time.Time),
	}
}

// Start registers the handler and blocks while the source is connected
func (s *FeishuServer) Start(ctx context.Context) error {
	s.source.OnMessage(func(msg *feishu.Message) {
		s.HandleMessage(ctx, msg)
	})
	return s.source.Start(ctx)
}

// ConversationID returns the thread id used for a Feishu chat
func ConversationID(chatID string) string {
	return "feishu_" + chatID
}

// HandleMessage stores an inbound message and, unless gated, starts a reply
// that is sent back to the chat
func (s *FeishuServer) HandleMessage(ctx context.Context, msg *feishu.Message) {
	if msg == nil || msg.ChatID == "" {
		return
	}
	if !s.markMessageSeen(msg.MsgID) {
		s.log.Debug().Str("msg_id", msg.MsgID).Msg("duplicate event ignored")
		return
	}

	convID := ConversationID(msg.ChatID)
	log := s.log.With().Str("conversation_id", convID).Str("msg_id", msg.MsgID).Logger()

	ts := msg.CreateTime
	if ts.IsZero() {
		ts = time.Now()
	}
	n, err := s.notifications.Ingest(ctx, &domain.Notification{
		ConversationID: convID,
		PackageName:    feishuPackage,
		Title:          msg.ChatID,
		Content:        msg.Content,
		Timestamp:      ts,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to store message")
		return
	}

	reason, err := s.notifications.ShouldAutoReply(ctx, convID, msg.Content)
	if err != nil {
		log.Error().Err(err).Msg("auto-reply check failed")
		return
	}
	if reason != usecase.SkipNone {
		s.metrics.SkippedAutoReply(string(reason))
		log.Debug().Str("reason", string(reason)).Msg("auto-reply skipped")
		return
	}

	chatID, notificationID := msg.ChatID, n.ID
	requestID := s.replies.GenerateReply(notificationID, msg.Content, service.CallbackFuncs{
		Complete: func(text string) {
			s.deliver(log, chatID, notificationID, text)
		},
		Error: func(err error) {
			log.Warn().Err(err).Str("class", domain.ErrorClass(err)).Msg("no reply sent")
		},
	})
	log.Info().Str("request_id", requestID).Int64("notification_id", notificationID).Msg("auto-reply started")
}

func (s *FeishuServer) deliver(log zerolog.Logger, chatID string, notificationID int64, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := s.messenger.SendText(ctx, chatID, text); err != nil {
		log.Error().Err(err).Msg("failed to send reply")
		return
	}
	if err := s.notifications.RecordAutoReply(ctx, notificationID, text); err != nil {
		log.Warn().Err(err).Msg("failed to mark notification replied")
	}
}

// markMessageSeen records msgID and returns false if it was already seen
func (s *FeishuServer) markMessageSeen(msgID string) bool {
	if msgID == "" {
		return true
	}
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-seenMessagesTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
	if _, ok := s.seenMsgs[msgID]; ok {
		return false
	}
	s.seenMsgs[msgID] = now
	return true
}
