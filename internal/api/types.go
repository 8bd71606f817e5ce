package api

import (
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
)

// NotificationRequest is the body of POST /api/notifications
type NotificationRequest struct {
	PackageName    string `json:"package_name"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"` // unix ms, defaults to now
	AutoReply      bool   `json:"auto_reply"`
}

// Notification is the wire form of a notification
type Notification struct {
	ID               int64  `json:"id"`
	ConversationID   string `json:"conversation_id"`
	PackageName      string `json:"package_name"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	Timestamp        int64  `json:"timestamp"`
	AutoReplied      bool   `json:"auto_replied"`
	AutoReplyContent string `json:"auto_reply_content,omitempty"`
}

// IngestResponse is returned by POST /api/notifications
type IngestResponse struct {
	Notification Notification     `json:"notification"`
	AutoReply    *AutoReplyStatus `json:"auto_reply,omitempty"`
}

// AutoReplyStatus tells whether an automatic reply was started
type AutoReplyStatus struct {
	RequestID string `json:"request_id,omitempty"`
	Skipped   string `json:"skipped,omitempty"`
}

// ReplyRequest is the optional body of POST /api/notifications/{id}/reply
type ReplyRequest struct {
	Message string `json:"message"`
}

// StreamEvent is one NDJSON line of a reply stream
type StreamEvent struct {
	Type      string `json:"type"` // partial, complete or error
	RequestID string `json:"request_id"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	Class     string `json:"class,omitempty"`
}

// Stream event types
const (
	EventPartial  = "partial"
	EventComplete = "complete"
	EventError    = "error"
)

// TextResponse carries the final text of a reply or analysis
type TextResponse struct {
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

// HistoryEntry is the wire form of a history entry
type HistoryEntry struct {
	ID                int64  `json:"id"`
	ConversationID    string `json:"conversation_id"`
	NotificationID    int64  `json:"notification_id"`
	Message           string `json:"message"`
	Response          string `json:"response"`
	Timestamp         int64  `json:"timestamp"`
	Modified          bool   `json:"modified"`
	Analysis          string `json:"analysis,omitempty"`
	AnalysisTimestamp int64  `json:"analysis_timestamp,omitempty"`
}

// EditResponseRequest is the body of PUT /api/history/{id}
type EditResponseRequest struct {
	Response string `json:"response"`
}

// Template is the wire form of a global prompt template
type Template struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Template  string `json:"template"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
}

// TemplateRequest is the body of POST /api/templates
type TemplateRequest struct {
	Name     string `json:"name"`
	Template string `json:"template"`
	Activate bool   `json:"activate"`
}

// ConversationPrompt is the wire form of a per-conversation override
type ConversationPrompt struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
	Template       string `json:"template"`
	UpdatedAt      int64  `json:"updated_at,omitempty"`
}

// OptOut is the wire form of an auto-reply opt-out
type OptOut struct {
	ConversationID string `json:"conversation_id"`
	CreatedAt      int64  `json:"created_at"`
}

// Config is the wire form of the model config; the key is always masked
type Config struct {
	APIKey              string `json:"api_key"`
	ModelName           string `json:"model_name"`
	MaxHistoryPerThread int    `json:"max_history_per_thread"`
	Configured          bool   `json:"configured"`
	State               string `json:"state"`
	UpdatedAt           int64  `json:"updated_at,omitempty"`
	InitError           string `json:"init_error,omitempty"`
}

// ConfigRequest is the body of PUT /api/config. Empty fields keep their stored value.
type ConfigRequest struct {
	APIKey              string `json:"api_key"`
	ModelName           string `json:"model_name"`
	MaxHistoryPerThread int    `json:"max_history_per_thread"`
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func toNotification(n *domain.Notification) Notification {
	return Notification{
		ID:               n.ID,
		ConversationID:   n.ConversationID,
		PackageName:      n.PackageName,
		Title:            n.Title,
		Content:          n.Content,
		Timestamp:        unixMilli(n.Timestamp),
		AutoReplied:      n.AutoReplied,
		AutoReplyContent: n.AutoReplyContent,
	}
}

func toHistoryEntries(entries []domain.HistoryEntry) []HistoryEntry {
	result := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		result[i] = toHistoryEntry(&e)
	}
	return result
}

func toHistoryEntry(e *domain.HistoryEntry) HistoryEntry {
	h := HistoryEntry{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		NotificationID: e.NotificationID,
		Message:        e.Message,
		Response:       e.Response,
		Timestamp:      unixMilli(e.Timestamp),
		Modified:       e.Modified,
		Analysis:       e.Analysis,
	}
	if e.AnalysisTimestamp != nil {
		h.AnalysisTimestamp = e.AnalysisTimestamp.UnixMilli()
	}
	return h
}

func toTemplates(templates []domain.PromptTemplate) []Template {
	result := make([]Template, len(templates))
	for i, t := range templates {
		result[i] = Template{
			ID:        t.ID,
			Name:      t.Name,
			Template:  t.Template,
			Active:    t.Active,
			CreatedAt: unixMilli(t.CreatedAt),
		}
	}
	return result
}
