package mcp

import (
	"context"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/view"
)

// Tool name constants.
const (
	ToolSearchMessages = "search_messages"
	ToolGetMessage     = "get_message"
	ToolListIndexes    = "list_indexes"
	ToolViewIndex      = "view_index"
	ToolGetStats       = "get_stats"
)

// Caller runs fn on the goroutine that owns the database.
type Caller interface {
	Call(ctx context.Context, fn func() error) error
}

// Common argument helpers for recurring tool option definitions.

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

func withOffset() mcp.ToolOption {
	return mcp.WithNumber("offset",
		mcp.Description("Number of results to skip for pagination (default 0)"),
	)
}

// NewServer builds an MCP server exposing the database's read-only tools.
func NewServer(call Caller, db *msgdb.Database, views *view.Cache) *server.MCPServer {
	s := server.NewMCPServer(
		"msgdb",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{call: call, db: db, views: views}

	s.AddTool(searchMessagesTool(), h.searchMessages)
	s.AddTool(getMessageTool(), h.getMessage)
	s.AddTool(listIndexesTool(), h.listIndexes)
	s.AddTool(viewIndexTool(), h.viewIndex)
	s.AddTool(getStatsTool(), h.getStats)
	return s
}

// Serve runs the MCP server over stdio. It blocks until stdin is closed
// or the context is cancelled.
func Serve(ctx context.Context, call Caller, db *msgdb.Database, views *view.Cache) error {
	return ServeIO(ctx, call, db, views, os.Stdin, os.Stdout)
}

// ServeIO is Serve over arbitrary streams.
func ServeIO(ctx context.Context, call Caller, db *msgdb.Database, views *view.Cache, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(NewServer(call, db, views))
	return stdio.Listen(ctx, in, out)
}

func searchMessagesTool() mcp.Tool {
	return mcp.NewTool(ToolSearchMessages,
		mcp.WithDescription("Search messages. Supports from:, subject:, is:read|unread|flagged, account:, before:, after:, older_than:, newer_than:, larger:, smaller: and free text answered by the full-text lexicon."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (e.g. 'from:alice invoice newer_than:30d')"),
		),
		withLimit("20"),
		withOffset(),
	)
}

func getMessageTool() mcp.Tool {
	return mcp.NewTool(ToolGetMessage,
		mcp.WithDescription("Get a message by gid: headers, flags, body text, duplicates and the indexes it is filed in."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Message gid"),
		),
	)
}

func listIndexesTool() mcp.Tool {
	return mcp.NewTool(ToolListIndexes,
		mcp.WithDescription("List folders, special indexes, unions and saved searches with their message counts."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func viewIndexTool() mcp.Tool {
	return mcp.NewTool(ToolViewIndex,
		mcp.WithDescription("Render an index the way a mail client lists it: rows in display order with thread depth and group headers."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Index id (from list_indexes)"),
		),
		withLimit("50"),
		withOffset(),
	)
}

func getStatsTool() mcp.Tool {
	return mcp.NewTool(ToolGetStats,
		mcp.WithDescription("Get database overview: message counts, index memberships, lexicon size and commit state."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
