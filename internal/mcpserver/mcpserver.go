// Package mcpserver exposes the query service over the Model Context
// Protocol so LLM clients can use the dataset as a tool.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/perebor/askdb/internal/agent"
)

// SchemaReader exposes the dataset schema. Implemented by storage.Store.
type SchemaReader interface {
	SchemaContext(ctx context.Context) (string, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Agent  *agent.Orchestrator
	Schema SchemaReader
}

// New creates an MCP server with the query tools and schema resource
// registered.
func New(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"askdb",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("askdb: natural-language querying over a local SQLite dataset with caching and adaptive explanations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_data",
			mcp.WithDescription("Answer a natural-language question about the dataset. Returns the generated SQL, the result rows, and an explanation when warranted."),
			mcp.WithString("query", mcp.Description("The question, in plain language"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Identifier used for the per-user cognitive profile (default: anonymous)")),
			mcp.WithString("table", mcp.Description("Table to query (default: orders)")),
		),
		toolQueryData(deps),
	)

	s.AddTool(
		mcp.NewTool("get_schema",
			mcp.WithDescription("Return the database schema with per-table row counts."),
		),
		toolGetSchema(deps),
	)

	s.AddTool(
		mcp.NewTool("performance_stats",
			mcp.WithDescription("Return query counters: totals, cache hit rate, average latency."),
		),
		toolPerformanceStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dataset://schema",
			"Dataset Schema",
			mcp.WithResourceDescription("Database schema rendered as text"),
			mcp.WithMIMEType("text/plain"),
		),
		resourceSchema(deps),
	)

	return s
}

func toolQueryData(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return toolError("query is required"), nil
		}

		res, err := deps.Agent.Query(ctx, agent.QueryRequest{
			UserID: req.GetString("user_id", "anonymous"),
			Text:   query,
			Table:  req.GetString("table", ""),
		})
		if err != nil {
			return toolError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return toolError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return toolText(string(b)), nil
	}
}

func toolGetSchema(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		schema, err := deps.Schema.SchemaContext(ctx)
		if err != nil {
			return toolError(fmt.Sprintf("schema introspection failed: %v", err)), nil
		}
		return toolText(schema), nil
	}
}

func toolPerformanceStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Agent.Stats())
		if err != nil {
			return toolError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return toolText(string(b)), nil
	}
}

func resourceSchema(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		schema, err := deps.Schema.SchemaContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("schema introspection failed: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     schema,
			},
		}, nil
	}
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
