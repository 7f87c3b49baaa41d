// Package reconcile computes local change sets against the manifest.
package reconcile

import (
	"sort"

	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/storage"
)

// Snapshot lists the current local documents. Satisfied by *storage.FS.
type Snapshot interface {
	ListDocs() ([]storage.FileInfo, error)
}

// ChangeSet partitions tracked and untracked paths into three disjoint
// sets. Unchanged files appear in none of them. Each set is sorted.
type ChangeSet struct {
	New      []string // on disk, not in the manifest
	Modified []string // tracked, content hash differs from last sync
	Deleted  []string // tracked, no longer on disk
}

// Empty reports whether there is nothing to push.
func (c *ChangeSet) Empty() bool {
	return len(c.New) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Changes compares the manifest against the local filesystem snapshot.
// It is pure over its inputs and performs no network calls: the same
// inputs always yield the same partition, so status display and push
// planning agree on classification.
//
// A manifest entry without a stored content hash cannot be classified
// and is reported in no set.
func Changes(man manifest.Manifest, snap Snapshot) (*ChangeSet, error) {
	files, err := snap.ListDocs()
	if err != nil {
		return nil, err
	}

	onDisk := make(map[string]string, len(files))
	for _, f := range files {
		onDisk[f.Path] = f.Checksum
	}

	cs := &ChangeSet{}
	for path, entry := range man {
		current, ok := onDisk[path]
		switch {
		case !ok:
			cs.Deleted = append(cs.Deleted, path)
		case entry.ContentHash == "":
			// Legacy entry, nothing to compare against.
		case current != entry.ContentHash:
			cs.Modified = append(cs.Modified, path)
		}
	}
	for _, f := range files {
		if _, tracked := man[f.Path]; !tracked {
			cs.New = append(cs.New, f.Path)
		}
	}

	sort.Strings(cs.New)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	return cs, nil
}
