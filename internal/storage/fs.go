// Package storage provides filesystem access to the local knowledge tree.
package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/mdlm/internal/checksum"
	"github.com/starford/mdlm/internal/models"
)

// KnowledgeDir is the root of cloned documents, relative to the working
// directory. Manifest keys and all FS paths carry this prefix.
const KnowledgeDir = "knowledge"

// FileInfo is a lightweight listing item for one local document.
type FileInfo struct {
	Path     string // relative path, e.g. knowledge/architecture/layering.md
	Checksum string // hex SHA-256 of the file content
}

// FS reads and writes documents under a working directory.
type FS struct {
	root string // absolute path to the working directory
}

// NewFS creates an FS rooted at dir. The directory must already exist;
// the knowledge subdirectory is created lazily on first write.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute working directory path.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the root and rejects any
// result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes working directory: %s", rel)
	}
	return abs, nil
}

// ListDocs walks the knowledge tree and returns every .md file with its
// content checksum, sorted by path. A missing knowledge directory is not
// an error: it simply yields no files.
func (f *FS) ListDocs() ([]FileInfo, error) {
	base := filepath.Join(f.root, KnowledgeDir)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}
	var out []FileInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		out = append(out, FileInfo{
			Path:     filepath.ToSlash(rel),
			Checksum: checksum.Sum(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a local document.
func (f *FS) Read(rel string) ([]byte, error) {
	abs, err := f.safePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", rel, err)
	}
	return data, nil
}

// Exists reports whether rel names a readable regular file.
func (f *FS) Exists(rel string) bool {
	abs, err := f.safePath(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Write atomically writes content: tmp file → fsync → rename. Parent
// directories are created as needed.
func (f *FS) Write(rel string, content []byte) error {
	abs, err := f.safePath(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mdlm-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// SafeFilename sanitizes a title or category so it is usable as a single
// path element: path separators and NUL bytes become underscores, leading
// and trailing dots/spaces are stripped, and an empty result falls back
// to a placeholder.
func SafeFilename(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")
	name = strings.Trim(r.Replace(name), ". ")
	if name == "" {
		return "_"
	}
	return name
}

// DocPath returns the canonical relative path for a document:
// knowledge/<category>/<title>, both elements sanitized.
func DocPath(category, title string) string {
	return path.Join(KnowledgeDir, SafeFilename(category), SafeFilename(title))
}

// InferCategory derives a category from a relative document path. Files
// nested under knowledge/<dir>/... take <dir>; top-level files and
// unknown directory names collapse to the general category.
func InferCategory(rel string) string {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), KnowledgeDir+"/")
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return models.CategoryGeneral
	}
	if !models.ValidCategory(parts[0]) {
		return models.CategoryGeneral
	}
	return parts[0]
}
