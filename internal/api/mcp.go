package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/souschef/souschef/internal/profile"
	"github.com/souschef/souschef/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles *profile.Manager
	Recipes  RecipeService
}

// RecipeService abstracts recipe operations for the MCP layer.
type RecipeService interface {
	Save(rec storage.Recipe) (storage.Recipe, error)
	List(limit, offset int) ([]storage.Recipe, error)
}

// NewMCPServer creates an MCP server exposing the taste profile and the
// recipe collection to assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"souschef",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("souschef — local taste profile and recipe collection for cooking assistants."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_preferences",
			mcp.WithDescription("Get the user's cooking preferences, rendered as prompt text or raw profile JSON."),
			mcp.WithString("format", mcp.Description("\"summary\" (default) for prompt text, \"json\" for the full profile")),
		),
		mcpGetPreferences(deps),
	)

	s.AddTool(
		mcp.NewTool("update_preference",
			mcp.WithDescription("Merge a learning signal into the taste profile. The signal is a JSON object with any of: tastes, dietary, equipment, identity, patterns."),
			mcp.WithString("signal", mcp.Description("JSON signal object"), mcp.Required()),
		),
		mcpUpdatePreference(deps),
	)

	s.AddTool(
		mcp.NewTool("log_signal",
			mcp.WithDescription("Log a passive behavioral signal (e.g. recipe_viewed, search) without changing learned preferences."),
			mcp.WithString("type", mcp.Description("Signal type"), mcp.Required()),
			mcp.WithString("data", mcp.Description("Optional JSON object with signal details")),
		),
		mcpLogSignal(deps),
	)

	s.AddTool(
		mcp.NewTool("save_recipe",
			mcp.WithDescription("Save a recipe to the user's collection."),
			mcp.WithString("title", mcp.Description("Recipe title"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Full recipe text")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpSaveRecipe(deps),
	)

	s.AddTool(
		mcp.NewTool("list_recipes",
			mcp.WithDescription("List saved recipes, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListRecipes(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://profile",
			"Taste Profile",
			mcp.WithResourceDescription("Current taste profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpGetPreferences(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		format := req.GetString("format", "summary")

		if format == "json" {
			p, ok := deps.Profiles.Get()
			if !ok {
				return mcpText("{}"), nil
			}
			b, err := json.Marshal(p)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
			}
			return mcpText(string(b)), nil
		}

		summary := deps.Profiles.PromptSuffix()
		if summary == "" {
			return mcpText("No preferences learned yet."), nil
		}
		return mcpText(summary), nil
	}
}

func mcpUpdatePreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("signal")
		if err != nil {
			return mcpError("signal is required"), nil
		}

		var sig profile.Signal
		if err := json.Unmarshal([]byte(raw), &sig); err != nil {
			return mcpError(fmt.Sprintf("invalid signal JSON: %v", err)), nil
		}
		if sig.IsEmpty() {
			return mcpError("signal carries no recognized fields"), nil
		}

		p, err := deps.Profiles.MergeSignal(sig)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to merge signal: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Merged. Profile now reflects %d completed sessions.", p.SessionsCompleted)), nil
	}
}

func mcpLogSignal(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sigType, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}

		var data map[string]any
		if raw := req.GetString("data", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				return mcpError(fmt.Sprintf("invalid data JSON: %v", err)), nil
			}
		}

		deps.Profiles.LogPassiveSignal(sigType, data)
		return mcpText(fmt.Sprintf("Logged %s", sigType)), nil
	}
}

func mcpSaveRecipe(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}

		text := req.GetString("text", "")
		tags := req.GetStringSlice("tags", nil)

		rec := storage.Recipe{
			Title:      title,
			PinnedText: text,
			Source:     "mcp",
		}
		if len(tags) > 0 {
			b, err := json.Marshal(tags)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal tags: %v", err)), nil
			}
			rec.TagsJSON = string(b)
		}

		saved, err := deps.Recipes.Save(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Saved recipe %s", saved.ID)), nil
	}
}

func mcpListRecipes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		recs, err := deps.Recipes.List(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list recipes: %v", err)), nil
		}
		if len(recs) == 0 {
			return mcpText("[]"), nil
		}

		type recipeSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Source    string `json:"source"`
			CookCount int    `json:"cook_count"`
			CreatedAt string `json:"created_at"`
			Preview   string `json:"preview,omitempty"`
		}

		summaries := make([]recipeSummary, len(recs))
		for i, rec := range recs {
			preview := rec.PinnedText
			if utf8.RuneCountInString(preview) > 200 {
				runes := []rune(preview)
				preview = string(runes[:200]) + "..."
			}
			summaries[i] = recipeSummary{
				ID:        rec.ID,
				Title:     rec.Title,
				Source:    rec.Source,
				CookCount: rec.CookCount,
				CreatedAt: rec.CreatedAt.Format(time.RFC3339),
				Preview:   preview,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal recipes: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, ok := deps.Profiles.Get()
		if !ok {
			p = profile.NewDefault()
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
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
