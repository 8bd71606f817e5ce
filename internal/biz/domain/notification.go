package domain

import "time"

// Notification is one inbound message captured from a messaging app.
type Notification struct {
	ID               int64
	ConversationID   string
	PackageName      string
	Title            string
	Content          string
	Timestamp        time.Time
	AutoReplied      bool
	AutoReplyContent string
}

// HasConversation reports whether the conversation id has been assigned.
func (n *Notification) HasConversation() bool {
	return n.ConversationID != ""
}

// IsAfter checks if the notification arrived after t
func (n *Notification) IsAfter(t time.Time) bool {
	return n.Timestamp.After(t)
}

// AutoReplyOptOut marks a conversation that must not be auto-replied.
type AutoReplyOptOut struct {
	ConversationID string
	CreatedAt      time.Time
}
