// Package mcp exposes replybridge operations as MCP tools over stdio.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/whatsuit/replybridge/internal/api"
)

// Server provides MCP tools backed by the replybridge API
type Server struct {
	server *mcp.Server
	client *Client
}

// NewServer creates a new MCP server using client for every tool call
func NewServer(client *Client, version string) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "replybridge",
			Version: version,
		}, nil),
		client: client,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is done or the peer disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "generate_reply",
		Description: "Generate a reply to a stored notification. Stores the notification first when content is given instead of an id.",
	}, s.handleGenerateReply)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "analyze_conversation",
		Description: "Analyze the stored history of a conversation: summary, patterns, sentiment and suggestions.",
	}, s.handleAnalyze)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_history",
		Description: "List stored message/response pairs of a conversation, newest first.",
	}, s.handleListHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_templates",
		Description: "List the global reply templates and which one is active.",
	}, s.handleListTemplates)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "activate_template",
		Description: "Make a global reply template the active one.",
	}, s.handleActivateTemplate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_conversation_prompt",
		Description: "Override the reply template for one conversation. The template must contain {message}; {context} is optional.",
	}, s.handleSetConversationPrompt)
}

// ============ Replies ============

// GenerateReplyInput is the input for generate_reply
type GenerateReplyInput struct {
	NotificationID int64  `json:"notification_id,omitempty" jsonschema:"id of a stored notification"`
	Message        string `json:"message,omitempty" jsonschema:"message to answer, defaults to the notification content"`
	PackageName    string `json:"package_name,omitempty" jsonschema:"source app package, used when no notification_id is given"`
	Title          string `json:"title,omitempty" jsonschema:"sender or chat title, used when no notification_id is given"`
}

// GenerateReplyOutput is the output for generate_reply
type GenerateReplyOutput struct {
	RequestID      string `json:"request_id,omitempty"`
	NotificationID int64  `json:"notification_id,omitempty"`
	Reply          string `json:"reply,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleGenerateReply(ctx context.Context, req *mcp.CallToolRequest, input GenerateReplyInput) (*mcp.CallToolResult, GenerateReplyOutput, error) {
	id := input.NotificationID
	if id <= 0 {
		if input.Message == "" {
			return nil, GenerateReplyOutput{Error: "notification_id or message is required"}, nil
		}
		stored, err := s.client.Ingest(ctx, api.NotificationRequest{
			PackageName: input.PackageName,
			Title:       input.Title,
			Content:     input.Message,
		})
		if err != nil {
			return nil, GenerateReplyOutput{Error: err.Error()}, nil
		}
		id = stored.Notification.ID
	}

	resp, err := s.client.GenerateReply(ctx, id, input.Message)
	if err != nil {
		return nil, GenerateReplyOutput{NotificationID: id, Error: err.Error()}, nil
	}
	return nil, GenerateReplyOutput{RequestID: resp.RequestID, NotificationID: id, Reply: resp.Text}, nil
}

// AnalyzeInput is the input for analyze_conversation
type AnalyzeInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"conversation to analyze"`
}

// AnalyzeOutput is the output for analyze_conversation
type AnalyzeOutput struct {
	Analysis string `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleAnalyze(ctx context.Context, req *mcp.CallToolRequest, input AnalyzeInput) (*mcp.CallToolResult, AnalyzeOutput, error) {
	if input.ConversationID == "" {
		return nil, AnalyzeOutput{Error: "conversation_id is required"}, nil
	}
	resp, err := s.client.Analyze(ctx, input.ConversationID)
	if err != nil {
		return nil, AnalyzeOutput{Error: err.Error()}, nil
	}
	return nil, AnalyzeOutput{Analysis: resp.Text}, nil
}

// ============ History ============

// ListHistoryInput is the input for list_history
type ListHistoryInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"conversation to list"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum number of entries, default all"`
}

// ListHistoryOutput is the output for list_history
type ListHistoryOutput struct {
	Entries []api.HistoryEntry `json:"entries"`
	Error   string             `json:"error,omitempty"`
}

func (s *Server) handleListHistory(ctx context.Context, req *mcp.CallToolRequest, input ListHistoryInput) (*mcp.CallToolResult, ListHistoryOutput, error) {
	if input.ConversationID == "" {
		return nil, ListHistoryOutput{Error: "conversation_id is required"}, nil
	}
	entries, err := s.client.ListHistory(ctx, input.ConversationID, input.Limit)
	if err != nil {
		return nil, ListHistoryOutput{Error: err.Error()}, nil
	}
	return nil, ListHistoryOutput{Entries: entries}, nil
}

// ============ Templates ============

// ListTemplatesInput is empty
type ListTemplatesInput struct{}

// ListTemplatesOutput is the output for list_templates
type ListTemplatesOutput struct {
	Templates []api.Template `json:"templates"`
	Error     string         `json:"error,omitempty"`
}

func (s *Server) handleListTemplates(ctx context.Context, req *mcp.CallToolRequest, input ListTemplatesInput) (*mcp.CallToolResult, ListTemplatesOutput, error) {
	templates, err := s.client.ListTemplates(ctx)
	if err != nil {
		return nil, ListTemplatesOutput{Error: err.Error()}, nil
	}
	return nil, ListTemplatesOutput{Templates: templates}, nil
}

// ActivateTemplateInput is the input for activate_template
type ActivateTemplateInput struct {
	ID int64 `json:"id" jsonschema:"template id from list_templates"`
}

// SuccessOutput reports the outcome of a tool without data
type SuccessOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleActivateTemplate(ctx context.Context, req *mcp.CallToolRequest, input ActivateTemplateInput) (*mcp.CallToolResult, SuccessOutput, error) {
	if input.ID <= 0 {
		return nil, SuccessOutput{Error: "id is required"}, nil
	}
	if err := s.client.ActivateTemplate(ctx, input.ID); err != nil {
		return nil, SuccessOutput{Error: err.Error()}, nil
	}
	return nil, SuccessOutput{Success: true}, nil
}

// SetConversationPromptInput is the input for set_conversation_prompt
type SetConversationPromptInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"conversation to override"`
	Name           string `json:"name,omitempty" jsonschema:"label of the override"`
	Template       string `json:"template" jsonschema:"template text containing {message}"`
}

func (s *Server) handleSetConversationPrompt(ctx context.Context, req *mcp.CallToolRequest, input SetConversationPromptInput) (*mcp.CallToolResult, SuccessOutput, error) {
	if input.ConversationID == "" {
		return nil, SuccessOutput{Error: "conversation_id is required"}, nil
	}
	if err := s.client.SetConversationPrompt(ctx, input.ConversationID, input.Name, input.Template); err != nil {
		return nil, SuccessOutput{Error: err.Error()}, nil
	}
	return nil, SuccessOutput{Success: true}, nil
}
