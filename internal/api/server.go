// Package api exposes notifications, replies, prompts and config over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
	"github.com/whatsuit/replybridge/internal/service"
)

// Deps are the components the API server calls into
type Deps struct {
	Replies       *service.AutoReplyService
	Notifications *usecase.NotificationUsecase
	Prompts       *usecase.PromptUsecase
	Config        repo.ConfigRepo
	Metrics       *service.Metrics
}

// Server provides the HTTP API
type Server struct {
	deps   Deps
	apiKey string
	port   int
	log    zerolog.Logger

	server *http.Server
}

// NewServer creates a new API server. An empty apiKey disables authentication.
func NewServer(deps Deps, port int, apiKey string, log zerolog.Logger) *Server {
	return &Server{
		deps:   deps,
		apiKey: apiKey,
		port:   port,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// Handler builds the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Notifications
	mux.HandleFunc("POST /api/notifications", s.handleIngest)
	mux.HandleFunc("GET /api/notifications/{id}", s.handleGetNotification)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.handleDeleteNotification)
	mux.HandleFunc("POST /api/notifications/{id}/reply", s.handleReply)

	// Conversations
	mux.HandleFunc("GET /api/conversations/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/conversations/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/conversations/{id}/prompt", s.handleGetConversationPrompt)
	mux.HandleFunc("PUT /api/conversations/{id}/prompt", s.handlePutConversationPrompt)
	mux.HandleFunc("DELETE /api/conversations/{id}/prompt", s.handleDeleteConversationPrompt)
	mux.HandleFunc("PUT /api/conversations/{id}/auto-reply", s.handleOptIn)
	mux.HandleFunc("DELETE /api/conversations/{id}/auto-reply", s.handleOptOut)
	mux.HandleFunc("GET /api/opt-outs", s.handleListOptOuts)

	// History
	mux.HandleFunc("PUT /api/history/{id}", s.handleEditHistory)

	// Templates
	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)
	mux.HandleFunc("PUT /api/templates/{id}/activate", s.handleActivateTemplate)

	// Config
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return s.authenticate(mux)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Int("port", s.port).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	return s.port
}

// authenticate requires "Authorization: Bearer <key>" on everything but /health
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.apiKey == "" {
		return next
	}
	want := []byte("Bearer " + s.apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			s.writeStatus(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	case domain.IsRateLimit(err):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrServiceClosed):
		status = http.StatusServiceUnavailable
	default:
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeStatus(w, status, err)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeStatus(w, http.StatusBadRequest, err)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		s.badRequest(w, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// pathID parses a numeric path parameter
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.badRequest(w, fmt.Errorf("invalid id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

// conversationID returns the non-empty conversation path parameter
func (s *Server) conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		s.badRequest(w, errors.New("conversation id is required"))
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
