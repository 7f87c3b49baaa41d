// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the local knowledge base to LLM tooling via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mdlm/internal/index"
	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/models"
	"github.com/starford/mdlm/internal/reconcile"
	"github.com/starford/mdlm/internal/storage"
)

// QueryClient is the remote query capability. Satisfied by *remote.Client.
type QueryClient interface {
	Query(ctx context.Context, query, category string) (*models.QueryResult, error)
}

// Server wraps the MCP server with mdlm tools.
type Server struct {
	mcp    *server.MCPServer
	store  *storage.FS
	man    *manifest.Store
	db     *index.DB
	remote QueryClient
}

// New creates an MCP server with all mdlm tools registered. remote may be
// nil, in which case the knowledge query tool is not offered.
func New(store *storage.FS, man *manifest.Store, db *index.DB, remote QueryClient) *Server {
	s := &Server{mcp: server.NewMCPServer(
		"mdlm",
		"1.0.0",
		server.WithToolCapabilities(false),
	), store: store, man: man, db: db, remote: remote}

	s.mcp.AddTool(mcp.NewTool("search_docs",
		mcp.WithDescription("Full-text search through the cloned knowledge documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDocs)

	s.mcp.AddTool(mcp.NewTool("read_doc",
		mcp.WithDescription("Read the full content of a knowledge document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path (e.g. knowledge/architecture/layering.md)")),
	), s.readDoc)

	s.mcp.AddTool(mcp.NewTool("list_docs",
		mcp.WithDescription("List all local knowledge documents."),
	), s.listDocs)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Show local changes (new/modified/deleted) against the last sync."),
	), s.syncStatus)

	if remote != nil {
		s.mcp.AddTool(mcp.NewTool("query_knowledge",
			mcp.WithDescription("Ask the remote knowledge base a question about documented rules and patterns."),
			mcp.WithString("query", mcp.Required(), mcp.Description("The question to ask")),
			mcp.WithString("category", mcp.Description("Domain category (default: general)")),
		), s.queryKnowledge)
	}

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.db.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readDoc(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.store.ListDocs()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	man, err := s.man.Load()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cs, err := reconcile.Changes(man, s.store)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(cs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) queryKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	category := req.GetString("category", models.CategoryGeneral)
	if !models.ValidCategory(category) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown category: %s", category)), nil
	}
	res, err := s.remote.Query(ctx, query, category)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := res.Answer
	if res.GapDetected {
		text += "\n\nNote: a documentation gap was detected for this query."
	}
	return mcp.NewToolResultText(text), nil
}
