package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
)

// ============ Template Handlers ============

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.deps.Prompts.ListTemplates(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, toTemplates(templates))
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.badRequest(w, errors.New("name is required"))
		return
	}
	if err := usecase.ValidateTemplate(req.Template); err != nil {
		s.badRequest(w, err)
		return
	}

	id, err := s.deps.Prompts.CreateTemplate(r.Context(), &domain.PromptTemplate{Name: req.Name, Template: req.Template})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Activate {
		if err := s.deps.Prompts.ActivateTemplate(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSONStatus(w, http.StatusCreated, map[string]interface{}{"id": id, "active": req.Activate})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Prompts.DeleteTemplate(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Prompts.ActivateTemplate(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"id": id, "active": true})
}

// ============ Conversation Prompt Handlers ============

// handleGetConversationPrompt returns the template a reply would use, with its source
func (s *Server) handleGetConversationPrompt(w http.ResponseWriter, r *http.Request) {
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	resolved, err := s.deps.Prompts.ResolveTemplate(r.Context(), convID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"conversation_id": convID,
		"name":            resolved.Name,
		"template":        resolved.Template,
		"source":          resolved.Source,
	})
}

func (s *Server) handlePutConversationPrompt(w http.ResponseWriter, r *http.Request) {
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	var req ConversationPrompt
	if !s.decode(w, r, &req) {
		return
	}
	if err := usecase.ValidateTemplate(req.Template); err != nil {
		s.badRequest(w, err)
		return
	}
	p := &domain.ConversationPrompt{ConversationID: convID, Name: req.Name, Template: req.Template}
	if err := s.deps.Prompts.SetConversationPrompt(r.Context(), p); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, ConversationPrompt{ConversationID: convID, Name: req.Name, Template: req.Template})
}

func (s *Server) handleDeleteConversationPrompt(w http.ResponseWriter, r *http.Request) {
	convID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Prompts.DeleteConversationPrompt(r.Context(), convID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============ Config Handlers ============

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Config.Get(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, s.toConfig(cfg, nil))
}

// handlePutConfig merges the request into the stored config, saves it and
// reinitializes the model client
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.MaxHistoryPerThread < 0 {
		s.badRequest(w, errors.New("max_history_per_thread must not be negative"))
		return
	}

	cfg, err := s.deps.Config.Get(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cfg == nil {
		cfg = &domain.GeminiConfig{ModelName: domain.DefaultModelName, MaxHistoryPerThread: domain.DefaultMaxHistoryPerThread}
	}
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.ModelName != "" {
		cfg.ModelName = req.ModelName
	}
	if req.MaxHistoryPerThread > 0 {
		cfg.MaxHistoryPerThread = req.MaxHistoryPerThread
	}

	if err := s.deps.Config.Save(r.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}
	initErr := s.deps.Replies.Reinitialize(r.Context())
	if initErr != nil {
		s.log.Warn().Err(initErr).Msg("reinitialize after config change failed")
	}
	s.writeJSON(w, s.toConfig(cfg, initErr))
}

func (s *Server) toConfig(cfg *domain.GeminiConfig, initErr error) Config {
	out := Config{State: s.deps.Replies.ReadyState().String()}
	if cfg != nil {
		if cfg.APIKey != "" {
			out.APIKey = cfg.MaskedKey()
		}
		out.ModelName = cfg.ModelName
		out.MaxHistoryPerThread = cfg.HistoryCap()
		out.Configured = cfg.IsConfigured()
		out.UpdatedAt = unixMilli(cfg.UpdatedAt)
	}
	if initErr != nil {
		out.InitError = initErr.Error()
	}
	return out
}
