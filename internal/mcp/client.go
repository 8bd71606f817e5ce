package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/whatsuit/replybridge/internal/api"
)

// Client is the HTTP client for the replybridge API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new API client. Replies wait for the full text, so the
// timeout covers generation and streaming.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// ============ Replies ============

// GenerateReply generates a reply for a stored notification and waits for the final text
func (c *Client) GenerateReply(ctx context.Context, notificationID int64, message string) (*api.TextResponse, error) {
	var resp api.TextResponse
	path := fmt.Sprintf("/api/notifications/%d/reply?stream=false", notificationID)
	if err := c.do(ctx, http.MethodPost, path, api.ReplyRequest{Message: message}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ingest stores a notification
func (c *Client) Ingest(ctx context.Context, req api.NotificationRequest) (*api.IngestResponse, error) {
	var resp api.IngestResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Analyze analyzes a conversation
func (c *Client) Analyze(ctx context.Context, conversationID string) (*api.TextResponse, error) {
	var resp api.TextResponse
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/analyze"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ============ History ============

// ListHistory lists the history of a conversation, newest first
func (c *Client) ListHistory(ctx context.Context, conversationID string, limit int) ([]api.HistoryEntry, error) {
	var entries []api.HistoryEntry
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ============ Templates ============

// ListTemplates lists global templates
func (c *Client) ListTemplates(ctx context.Context) ([]api.Template, error) {
	var templates []api.Template
	if err := c.do(ctx, http.MethodGet, "/api/templates", nil, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// CreateTemplate stores a template, optionally activating it, and returns its id
func (c *Client) CreateTemplate(ctx context.Context, req api.TemplateRequest) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/templates", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// ActivateTemplate makes a template the active one
func (c *Client) ActivateTemplate(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/templates/%d/activate", id), nil, nil)
}

// SetConversationPrompt stores a per-conversation template
func (c *Client) SetConversationPrompt(ctx context.Context, conversationID, name, template string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/prompt"
	return c.do(ctx, http.MethodPut, path, api.ConversationPrompt{Name: name, Template: template}, nil)
}

// ============ Config ============

// GetConfig returns the model config with the key masked
func (c *Client) GetConfig(ctx context.Context) (*api.Config, error) {
	var cfg api.Config
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetConfig updates the model config; empty fields keep their value
func (c *Client) SetConfig(ctx context.Context, req api.ConfigRequest) (*api.Config, error) {
	var cfg api.Config
	if err := c.do(ctx, http.MethodPut, "/api/config", req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ============ Helpers ============

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// StatusError is a non-2xx API response
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}
