package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/amparo-app/amparo/internal/pipeline"
	"github.com/amparo-app/amparo/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Pipeline ChatPipeline
}

// NewMCPServer creates an MCP server exposing the recovery-support tools
// and reference resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"amparo",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("amparo — recovery-support chat backend: send messages through the crisis pipeline, log moods, and look up support resources."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a chat message through the crisis pipeline and return the assistant's reply."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The message text"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue; a new one is started when omitted")),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("log_mood",
			mcp.WithDescription("Record a mood check-in on the 1-5 scale."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithNumber("mood", mcp.Description("Mood from 1 (worst) to 5 (best)"), mcp.Required()),
			mcp.WithString("note", mcp.Description("Optional note")),
		),
		mcpLogMood(deps),
	)

	s.AddTool(
		mcp.NewTool("sobriety_status",
			mcp.WithDescription("List the user's active sobriety records with current streak days."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpSobrietyStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_resources",
			mcp.WithDescription("List crisis-support resources, optionally filtered by category."),
			mcp.WithString("category", mcp.Description("Category filter (e.g. emergency, meetings)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListResources(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"amparo://rules",
			"Crisis Rules",
			mcp.WithResourceDescription("Configured crisis keyword rules as JSON, in match order"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRules(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")
		if conversationID == "" {
			conversationID = uuid.New().String()
		}

		result, err := deps.Pipeline.Handle(ctx, pipeline.InboundMessage{
			ConversationID: conversationID,
			UserID:         userID,
			Text:           message,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("processing message: %v", err)), nil
		}

		b, err := json.Marshal(struct {
			pipeline.Result
			ConversationID string `json:"conversationId"`
		}{Result: result, ConversationID: conversationID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLogMood(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		mood := req.GetInt("mood", 0)
		if mood < 1 || mood > 5 {
			return mcpError("mood must be between 1 and 5"), nil
		}

		entry := storage.MoodEntry{
			ID:     uuid.New().String(),
			UserID: userID,
			Mood:   mood,
			Note:   req.GetString("note", ""),
		}
		if err := deps.Store.SaveMoodEntry(entry); err != nil {
			return mcpError(fmt.Sprintf("failed to save mood: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Logged mood %d for %s", mood, userID)), nil
	}
}

func mcpSobrietyStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		records, err := deps.Store.ListActiveSobriety(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list sobriety records: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal records: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListResources(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		resources, err := deps.Store.ListSupportResources(req.GetString("category", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list resources: %v", err)), nil
		}
		if len(resources) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(resources)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal resources: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRules(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rules, err := deps.Store.ListCrisisRules()
		if err != nil {
			return nil, fmt.Errorf("failed to list rules: %w", err)
		}

		b, err := json.Marshal(rules)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rules: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
