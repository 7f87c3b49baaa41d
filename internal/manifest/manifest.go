// Package manifest tracks the mapping from local file path to remote
// document metadata (.mdlm/manifest.json).
//
// The manifest is the single source of truth for "what did we last sync":
// it lets push detect new / modified / deleted files and perform version
// conflict checks before sending updates to the server.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	// DirName is the state directory relative to the working directory.
	DirName = ".mdlm"
	// FileName is the manifest file inside DirName.
	FileName = "manifest.json"
)

// Entry records the last-synced state of one tracked document.
type Entry struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	ContentHash string `json:"content_hash"`
}

// Manifest maps a relative file path to its tracked entry. It is a plain
// value threaded through load → mutate → save, never a long-lived service.
type Manifest map[string]Entry

// Add records or replaces the entry for relPath.
func (m Manifest) Add(relPath string, e Entry) {
	m[relPath] = e
}

// Remove drops the entry for relPath, if present.
func (m Manifest) Remove(relPath string) {
	delete(m, relPath)
}

// Get returns the entry for relPath.
func (m Manifest) Get(relPath string) (Entry, bool) {
	e, ok := m[relPath]
	return e, ok
}

// Paths returns all tracked paths in sorted order.
func (m Manifest) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Store persists a Manifest under a working directory root.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Path returns the manifest file location.
func (s *Store) Path() string {
	return filepath.Join(s.root, DirName, FileName)
}

// IsInitialized reports whether a manifest file exists.
func (s *Store) IsInitialized() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load reads the manifest from disk. A missing file yields an empty
// manifest; malformed content is an error so tracked state is never
// silently discarded.
func (s *Store) Load() (Manifest, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", s.Path(), err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", s.Path(), err)
	}
	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// Save writes the full manifest atomically: tmp file → fsync → rename.
// A crash leaves either the old or the new content, never a truncated file.
func (s *Store) Save(m Manifest) error {
	dir := filepath.Join(s.root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-tmp-*")
	if err != nil {
		return fmt.Errorf("manifest: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("manifest: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		return fmt.Errorf("manifest: rename: %w", err)
	}
	success = true
	return nil
}
