package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	s := tempStore(t)
	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("len = %d, want 0", len(m))
	}
	if s.IsInitialized() {
		t.Error("IsInitialized should be false before first save")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := tempStore(t)
	m := Manifest{}
	m.Add("knowledge/architecture/layering.md", Entry{
		ID:          "d1",
		Version:     3,
		Category:    "architecture",
		Title:       "layering.md",
		ContentHash: "abc",
	})

	if err := s.Save(m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.IsInitialized() {
		t.Error("IsInitialized should be true after save")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, ok := got.Get("knowledge/architecture/layering.md")
	if !ok {
		t.Fatal("entry missing after round trip")
	}
	if e.ID != "d1" || e.Version != 3 || e.ContentHash != "abc" {
		t.Errorf("entry = %+v", e)
	}
}

func TestLoadMalformedIsError(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := os.MkdirAll(filepath.Join(dir, DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err == nil {
		t.Error("expected error for malformed manifest")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Save(Manifest{"a.md": {ID: "x"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Overwrite to exercise the rename path twice.
	if err := s.Save(Manifest{"b.md": {ID: "y"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, DirName, ".manifest-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestAddRemoveGet(t *testing.T) {
	m := Manifest{}
	m.Add("a.md", Entry{ID: "1"})
	if _, ok := m.Get("a.md"); !ok {
		t.Error("Get after Add failed")
	}
	m.Remove("a.md")
	if _, ok := m.Get("a.md"); ok {
		t.Error("Get after Remove should miss")
	}
	// Removing a missing path is a no-op.
	m.Remove("missing.md")
}

func TestPathsSorted(t *testing.T) {
	m := Manifest{
		"knowledge/z.md": {},
		"knowledge/a.md": {},
		"knowledge/m.md": {},
	}
	got := m.Paths()
	want := []string{"knowledge/a.md", "knowledge/m.md", "knowledge/z.md"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Paths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
