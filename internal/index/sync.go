package index

import (
	"log/slog"
	"path"

	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/storage"
)

// Sync walks the knowledge tree and brings the index up to date:
//   - new/changed files are read and upserted
//   - files removed from disk are deleted from the index
//
// Manifest entries supply id/title/category for tracked paths; untracked
// files fall back to their filename and inferred category.
func Sync(db *DB, fs *storage.FS, man manifest.Manifest, logger *slog.Logger) error {
	files, err := fs.ListDocs()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}

		if checksums[f.Path] == f.Checksum {
			continue
		}

		data, err := fs.Read(f.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		row := docRow(man, f.Path, f.Checksum)
		if err := db.UpsertDoc(row, string(data)); err != nil {
			logger.Warn("sync: index failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", f.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteDoc(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// docRow builds the index row for a path, preferring manifest metadata.
func docRow(man manifest.Manifest, rel, cs string) DocRow {
	if entry, ok := man.Get(rel); ok {
		return DocRow{
			Path:     rel,
			DocID:    entry.ID,
			Title:    entry.Title,
			Category: entry.Category,
			Checksum: cs,
		}
	}
	return DocRow{
		Path:     rel,
		Title:    path.Base(rel),
		Category: storage.InferCategory(rel),
		Checksum: cs,
	}
}
