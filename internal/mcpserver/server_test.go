package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mdlm/internal/index"
	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/models"
	"github.com/starford/mdlm/internal/testutil"
)

type fakeQuery struct {
	answer string
	gap    bool
	calls  int
}

func (f *fakeQuery) Query(ctx context.Context, query, category string) (*models.QueryResult, error) {
	f.calls++
	return &models.QueryResult{Answer: f.answer, GapDetected: f.gap}, nil
}

func testServer(t *testing.T) (*Server, *index.DB, *fakeQuery) {
	t.Helper()
	_, man, store := testutil.TestWorkdir(t)
	db := testutil.TestDB(t)
	q := &fakeQuery{answer: "use layered architecture"}
	return New(store, man, db, q), db, q
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so dispatch to the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_docs":
		result, err = srv.searchDocs(ctx, req)
	case "read_doc":
		result, err = srv.readDoc(ctx, req)
	case "list_docs":
		result, err = srv.listDocs(ctx, req)
	case "sync_status":
		result, err = srv.syncStatus(ctx, req)
	case "query_knowledge":
		result, err = srv.queryKnowledge(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSearchDocs(t *testing.T) {
	srv, db, _ := testServer(t)
	err := db.UpsertDoc(index.DocRow{
		Path: "knowledge/architecture/layering.md", Title: "layering.md", Category: "architecture", Checksum: "c1",
	}, "keep handlers thin")
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "search_docs", map[string]interface{}{"query": "handlers"})
	if r.IsError {
		t.Fatalf("search error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "knowledge/architecture/layering.md") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestReadDoc(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.store.Write("knowledge/notes.md", []byte("# Notes")); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "read_doc", map[string]interface{}{"path": "knowledge/notes.md"})
	if resultText(r) != "# Notes" {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestReadDocMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "read_doc", map[string]interface{}{"path": "knowledge/nope.md"})
	if !r.IsError {
		t.Error("expected error for missing doc")
	}
}

func TestListDocs(t *testing.T) {
	srv, _, _ := testServer(t)
	_ = srv.store.Write("knowledge/a.md", []byte("a"))
	_ = srv.store.Write("knowledge/security/b.md", []byte("b"))

	r := callTool(t, srv, "list_docs", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "knowledge/a.md") || !strings.Contains(text, "knowledge/security/b.md") {
		t.Errorf("result = %q", text)
	}
}

func TestSyncStatus(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.man.Save(manifest.Manifest{}); err != nil {
		t.Fatal(err)
	}
	if err := srv.store.Write("knowledge/new.md", []byte("untracked")); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "sync_status", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("sync_status error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "knowledge/new.md") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestQueryKnowledge(t *testing.T) {
	srv, _, q := testServer(t)

	r := callTool(t, srv, "query_knowledge", map[string]interface{}{"query": "how do we layer?"})
	if resultText(r) != "use layered architecture" {
		t.Errorf("result = %q", resultText(r))
	}
	if q.calls != 1 {
		t.Errorf("query calls = %d", q.calls)
	}

	r = callTool(t, srv, "query_knowledge", map[string]interface{}{"query": "x", "category": "poetry"})
	if !r.IsError {
		t.Error("expected error for unknown category")
	}
}

func TestQueryKnowledgeGapNote(t *testing.T) {
	srv, _, q := testServer(t)
	q.gap = true

	r := callTool(t, srv, "query_knowledge", map[string]interface{}{"query": "undocumented thing"})
	if !strings.Contains(resultText(r), "documentation gap") {
		t.Errorf("result = %q", resultText(r))
	}
}
