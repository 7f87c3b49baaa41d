// Package testutil provides shared test helpers: temporary working
// directories, index databases, and an in-memory knowledge service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdlm/internal/index"
	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/models"
	"github.com/starford/mdlm/internal/storage"
)

// TestWorkdir creates a temporary working directory with a manifest store
// and a filesystem provider rooted in it.
func TestWorkdir(t *testing.T) (string, *manifest.Store, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, manifest.NewStore(dir), fs
}

// TestDB creates a temporary SQLite index that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mdlm-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// FakeRemote is an in-memory knowledge service with the same HTTP surface
// the real service exposes. It records per-endpoint call counts so tests
// can assert that an operation made (or avoided) network mutations.
type FakeRemote struct {
	mu     sync.Mutex
	docs   map[string]*models.Document
	nextID int

	Token string // required bearer token; empty disables auth
	Calls map[string]int
}

// NewFakeRemote creates an empty fake service accepting the given token.
func NewFakeRemote(token string) *FakeRemote {
	return &FakeRemote{
		docs:  make(map[string]*models.Document),
		Token: token,
		Calls: make(map[string]int),
	}
}

// Seed inserts a document as-is and returns it.
func (f *FakeRemote) Seed(doc models.Document) models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := doc
	f.docs[d.ID] = &d
	return d
}

// Doc returns a copy of the stored document, or nil.
func (f *FakeRemote) Doc(id string) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		c := *d
		return &c
	}
	return nil
}

// SetVersion force-bumps a document version, simulating a concurrent
// server-side edit.
func (f *FakeRemote) SetVersion(id string, version int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		d.Version = version
	}
}

// CallCount returns how many times the named endpoint was hit.
func (f *FakeRemote) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

func (f *FakeRemote) count(name string) {
	f.mu.Lock()
	f.Calls[name]++
	f.mu.Unlock()
}

// Router builds the chi router for the fake service.
func (f *FakeRemote) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(f.auth)

	r.Get("/api/knowledge", f.list)
	r.Post("/api/knowledge", f.create)
	r.Get("/api/knowledge/{id}", f.get)
	r.Put("/api/knowledge/{id}", f.update)
	r.Delete("/api/knowledge/{id}", f.delete)

	r.Post("/api/query", f.query)
	r.Post("/api/validate", f.validate)
	r.Post("/api/gaps/resolve", f.resolveGap)

	return r
}

// Start runs the fake service on an httptest server.
func (f *FakeRemote) Start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.Router())
	t.Cleanup(srv.Close)
	return srv
}

func (f *FakeRemote) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.Token != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != f.Token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeRemote) list(w http.ResponseWriter, r *http.Request) {
	f.count("list")
	category := r.URL.Query().Get("category")

	f.mu.Lock()
	var docs []models.Document
	for _, d := range f.docs {
		if category != "" && d.Category != category {
			continue
		}
		docs = append(docs, *d)
	}
	f.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"docs": docs})
}

func (f *FakeRemote) get(w http.ResponseWriter, r *http.Request) {
	f.count("get")
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	d, ok := f.docs[id]
	var doc models.Document
	if ok {
		doc = *d
	}
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "doc not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc": doc})
}

func (f *FakeRemote) create(w http.ResponseWriter, r *http.Request) {
	f.count("create")
	var req struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	f.mu.Lock()
	f.nextID++
	doc := models.Document{
		ID:       fmt.Sprintf("d%d", f.nextID),
		Version:  1,
		Title:    req.Title,
		Category: req.Category,
		Content:  req.Content,
	}
	f.docs[doc.ID] = &doc
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"doc": doc})
}

func (f *FakeRemote) update(w http.ResponseWriter, r *http.Request) {
	f.count("update")
	id := chi.URLParam(r, "id")
	var req struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	f.mu.Lock()
	d, ok := f.docs[id]
	var doc models.Document
	if ok {
		d.Title = req.Title
		d.Content = req.Content
		d.Category = req.Category
		d.Version++
		doc = *d
	}
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "doc not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc": doc})
}

func (f *FakeRemote) delete(w http.ResponseWriter, r *http.Request) {
	f.count("delete")
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	_, ok := f.docs[id]
	delete(f.docs, id)
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "doc not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (f *FakeRemote) query(w http.ResponseWriter, r *http.Request) {
	f.count("query")
	writeJSON(w, http.StatusOK, models.QueryResult{Answer: "use layered architecture"})
}

func (f *FakeRemote) validate(w http.ResponseWriter, r *http.Request) {
	f.count("validate")
	writeJSON(w, http.StatusOK, models.ValidationResult{Status: "pass", Violations: []models.Violation{}})
}

func (f *FakeRemote) resolveGap(w http.ResponseWriter, r *http.Request) {
	f.count("resolve_gap")
	writeJSON(w, http.StatusOK, models.GapResolution{GapDetected: false, ResolutionMode: "none"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
