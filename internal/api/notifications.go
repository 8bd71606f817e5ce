package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
	"github.com/whatsuit/replybridge/internal/service"
)

const recordReplyTimeout = 5 * time.Second

// ============ Notification Handlers ============

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.badRequest(w, errors.New("content is required"))
		return
	}

	n := &domain.Notification{
		PackageName:    req.PackageName,
		Title:          req.Title,
		Content:        req.Content,
		ConversationID: req.ConversationID,
	}
	if req.Timestamp > 0 {
		n.Timestamp = time.UnixMilli(req.Timestamp)
	}

	stored, err := s.deps.Notifications.Ingest(r.Context(), n)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := IngestResponse{Notification: toNotification(stored)}
	if req.AutoReply {
		status, err := s.startAutoReply(r.Context(), stored)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.AutoReply = status
	}

	s.writeJSONStatus(w, http.StatusCreated, resp)
}

// startAutoReply gates and starts an automatic reply; the reply is recorded
// on the notification once complete
func (s *Server) startAutoReply(ctx context.Context, n *domain.Notification) (*AutoReplyStatus, error) {
	reason, err := s.deps.Notifications.ShouldAutoReply(ctx, n.ConversationID, n.Content)
	if err != nil {
		return nil, err
	}
	if reason != usecase.SkipNone {
		s.deps.Metrics.SkippedAutoReply(string(reason))
		return &AutoReplyStatus{Skipped: string(reason)}, nil
	}

	id := n.ID
	requestID := s.deps.Replies.GenerateReply(id, n.Content, service.CallbackFuncs{
		Complete: func(text string) {
			ctx, cancel := context.WithTimeout(context.Background(), recordReplyTimeout)
			defer cancel()
			if err := s.deps.Notifications.RecordAutoReply(ctx, id, text); err != nil {
				s.log.Warn().Err(err).Int64("notification_id", id).Msg("failed to record auto reply")
			}
		},
		Error: func(err error) {
			s.log.Warn().Err(err).Int64("notification_id", id).Msg("auto reply failed")
		},
	})
	return &AutoReplyStatus{RequestID: requestID}, nil
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	n, err := s.deps.Notifications.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, toNotification(n))
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Notifications.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReply streams a reply as NDJSON, one StreamEvent per line. With
// ?stream=false only the final text is returned.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req ReplyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(w, err)
		return
	}

	events, done := newEventPipe()
	defer close(done)
	requestID := s.deps.Replies.GenerateReply(id, req.Message, events.callback())

	if r.URL.Query().Get("stream") == "false" {
		s.writeFinal(w, r, requestID, "", events)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for {
		select {
		case e := <-events.ch:
			e.RequestID = requestID
			if err := enc.Encode(e); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if e.Type != EventPartial {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeFinal waits for the terminal event and writes it as a single response
func (s *Server) writeFinal(w http.ResponseWriter, r *http.Request, requestID, conversationID string, events *eventPipe) {
	for {
		select {
		case e := <-events.ch:
			switch e.Type {
			case EventPartial:
				continue
			case EventError:
				s.writeError(w, events.err)
			default:
				s.writeJSON(w, TextResponse{RequestID: requestID, ConversationID: conversationID, Text: e.Text})
			}
			return
		case <-r.Context().Done():
			return
		}
	}
}

// eventPipe turns service callbacks into StreamEvents. Sends stop once done
// is closed so a departed client never blocks the dispatcher.
type eventPipe struct {
	ch   chan StreamEvent
	done chan struct{}
	err  error
}

func newEventPipe() (*eventPipe, chan struct{}) {
	done := make(chan struct{})
	return &eventPipe{ch: make(chan StreamEvent, 64), done: done}, done
}

func (p *eventPipe) send(e StreamEvent) {
	select {
	case p.ch <- e:
	case <-p.done:
	}
}

func (p *eventPipe) callback() service.Callback {
	return service.CallbackFuncs{
		Partial: func(text string) {
			p.send(StreamEvent{Type: EventPartial, Text: text})
		},
		Complete: func(text string) {
			p.send(StreamEvent{Type: EventComplete, Text: text})
		},
		Error: func(err error) {
			// read by the receiver only after the event arrives
			p.err = err
			p.send(StreamEvent{Type: EventError, Error: err.Error(), Class: domain.ErrorClass(err)})
		},
	}
}

// ============ Conversation Handlers ============

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	entries, err := s.deps.Notifications.ListHistory(r.Context(), convID, queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, toHistoryEntries(entries))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	events, done := newEventPipe()
	defer close(done)
	requestID := s.deps.Replies.AnalyzeConversation(convID, events.callback())
	s.writeFinal(w, r, requestID, convID, events)
}

func (s *Server) handleOptOut(w http.ResponseWriter, r *http.Request) {
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Notifications.OptOut(r.Context(), convID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"conversation_id": convID, "auto_reply": false})
}

func (s *Server) handleOptIn(w http.ResponseWriter, r *http.Request) {
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Notifications.OptIn(r.Context(), convID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"conversation_id": convID, "auto_reply": true})
}

func (s *Server) handleListOptOuts(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notifications.ListOptOuts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := make([]OptOut, len(list))
	for i, o := range list {
		result[i] = OptOut{ConversationID: o.ConversationID, CreatedAt: unixMilli(o.CreatedAt)}
	}
	s.writeJSON(w, result)
}

// ============ History Handlers ============

func (s *Server) handleEditHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req EditResponseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Response) == "" {
		s.badRequest(w, errors.New("response is required"))
		return
	}
	entry, err := s.deps.Notifications.EditResponse(r.Context(), id, req.Response)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entry == nil {
		s.writeStatus(w, http.StatusNotFound, errors.New("history entry not found"))
		return
	}
	s.writeJSON(w, toHistoryEntry(entry))
}
