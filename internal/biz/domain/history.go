package domain

import "time"

// HistoryEntry is one persisted message/response pair of a thread.
type HistoryEntry struct {
	ID                int64
	ConversationID    string
	NotificationID    int64
	Message           string
	Response          string
	Timestamp         time.Time
	Modified          bool
	Analysis          string
	AnalysisTimestamp *time.Time
}

// HasAnalysis checks if an analysis was stored for this entry
func (h *HistoryEntry) HasAnalysis() bool {
	return h.Analysis != "" && h.AnalysisTimestamp != nil
}
