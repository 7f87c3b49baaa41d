// Package syncer orchestrates clone, pull, status, and push between the
// local knowledge tree and the remote store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/starford/mdlm/internal/apperr"
	"github.com/starford/mdlm/internal/checksum"
	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/models"
	"github.com/starford/mdlm/internal/reconcile"
	"github.com/starford/mdlm/internal/storage"
)

// RemoteStore is the document API consumed by the engine. Satisfied by
// *remote.Client.
type RemoteStore interface {
	List(ctx context.Context, category string) ([]models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Create(ctx context.Context, title, content, category string) (*models.Document, error)
	Update(ctx context.Context, id, title, content, category, changeReason string) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// Engine runs sync operations sequentially. It holds no mutable state of
// its own: the manifest is loaded, threaded through, and saved per
// operation. The manifest file is the only synchronization point between
// runs; two concurrent invocations in one directory can race on it,
// which is an accepted limitation.
type Engine struct {
	man    *manifest.Store
	fs     *storage.FS
	remote RemoteStore
	logger *slog.Logger
	out    io.Writer
}

// New creates an Engine. A nil logger falls back to slog.Default and a
// nil out falls back to os.Stdout.
func New(man *manifest.Store, fs *storage.FS, remote RemoteStore, logger *slog.Logger, out io.Writer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Engine{man: man, fs: fs, remote: remote, logger: logger, out: out}
}

// CloneReport summarizes a clone run.
type CloneReport struct {
	Cloned int
}

// PullReport summarizes a pull run.
type PullReport struct {
	Updated int
	Errors  int
}

// PushOptions control a push run.
type PushOptions struct {
	// Message is an optional change reason recorded in version history.
	Message string
	// Category restricts the run to one category.
	Category string
	// Delete removes remote documents whose local file is gone.
	Delete bool
}

// PushReport summarizes a push run by outcome.
type PushReport struct {
	Created   int
	Updated   int
	Deleted   int
	Skipped   int // deleted locally but retained (no --delete)
	Conflicts int
	Errors    int
}

// Empty reports whether the run performed and attempted nothing.
func (r *PushReport) Empty() bool {
	return r.Created == 0 && r.Updated == 0 && r.Deleted == 0 &&
		r.Skipped == 0 && r.Conflicts == 0 && r.Errors == 0
}

// fatalRemote reports an error that must abort the whole batch:
// authentication and authorization failures are never retried per item.
func fatalRemote(err error) bool {
	return errors.Is(err, apperr.ErrUnauthorized) || errors.Is(err, apperr.ErrForbidden)
}

func checkCategory(category string) error {
	if category != "" && !models.ValidCategory(category) {
		return fmt.Errorf("%w: %q", apperr.ErrUnknownCategory, category)
	}
	return nil
}

// Clone downloads the knowledge base into ./knowledge/ and writes the
// initial manifest. The directory must not already be initialized.
func (e *Engine) Clone(ctx context.Context, category string) (*CloneReport, error) {
	if e.man.IsInitialized() {
		return nil, fmt.Errorf("%s exists, use `mdlm pull` to refresh: %w",
			e.man.Path(), apperr.ErrAlreadyInitialized)
	}
	if err := checkCategory(category); err != nil {
		return nil, err
	}

	docs, err := e.remote.List(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		fmt.Fprintln(e.out, "No docs found. Your knowledge base is empty.")
		return &CloneReport{}, nil
	}

	man := manifest.Manifest{}
	for _, doc := range docs {
		rel := storage.DocPath(doc.Category, doc.Title)
		if err := e.fs.Write(rel, []byte(doc.Content)); err != nil {
			return nil, err
		}
		man.Add(rel, manifest.Entry{
			ID:          doc.ID,
			Version:     doc.Version,
			Category:    doc.Category,
			Title:       doc.Title,
			ContentHash: checksum.SumString(doc.Content),
		})
	}
	if err := e.man.Save(man); err != nil {
		return nil, err
	}

	fmt.Fprintf(e.out, "Cloned %d doc(s) → ./%s/\n", len(man), storage.KnowledgeDir)
	fmt.Fprintln(e.out, "Edit files, then run `mdlm push` to upload changes.")
	return &CloneReport{Cloned: len(man)}, nil
}

// Pull re-fetches every tracked document and overwrites the local copy
// unconditionally. Local edits are discarded; this is a hard overwrite,
// not a merge. Per-entry fetch failures are counted and skipped.
func (e *Engine) Pull(ctx context.Context) (*PullReport, error) {
	man, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	if len(man) == 0 {
		fmt.Fprintln(e.out, "Nothing to pull — manifest is empty.")
		return &PullReport{}, nil
	}

	rep := &PullReport{}
	for _, rel := range man.Paths() {
		entry, _ := man.Get(rel)
		doc, err := e.remote.Get(ctx, entry.ID)
		if err != nil {
			if fatalRemote(err) {
				// Persist whatever subset succeeded before aborting.
				_ = e.man.Save(man)
				return nil, err
			}
			fmt.Fprintf(e.out, "  error pulling %s: %v\n", rel, err)
			rep.Errors++
			continue
		}
		if err := e.fs.Write(rel, []byte(doc.Content)); err != nil {
			fmt.Fprintf(e.out, "  error writing %s: %v\n", rel, err)
			rep.Errors++
			continue
		}
		entry.Version = doc.Version
		entry.Title = doc.Title
		entry.Category = doc.Category
		entry.ContentHash = checksum.SumString(doc.Content)
		man.Add(rel, entry)
		rep.Updated++
	}

	if err := e.man.Save(man); err != nil {
		return nil, err
	}
	if rep.Errors > 0 {
		fmt.Fprintf(e.out, "Pulled %d doc(s). %d error(s).\n", rep.Updated, rep.Errors)
	} else {
		fmt.Fprintf(e.out, "Pulled %d doc(s).\n", rep.Updated)
	}
	return rep, nil
}

// Status prints local changes against the manifest without any network
// calls, and returns the computed change set.
func (e *Engine) Status() (*reconcile.ChangeSet, error) {
	man, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	cs, err := reconcile.Changes(man, e.fs)
	if err != nil {
		return nil, err
	}

	if cs.Empty() {
		fmt.Fprintln(e.out, "Nothing to push — no changes detected.")
		return cs, nil
	}
	if len(cs.New) > 0 {
		fmt.Fprintln(e.out, "New (will be created on push):")
		for _, p := range cs.New {
			fmt.Fprintf(e.out, "  + %s\n", p)
		}
	}
	if len(cs.Modified) > 0 {
		fmt.Fprintln(e.out, "Modified (will be updated on push):")
		for _, p := range cs.Modified {
			fmt.Fprintf(e.out, "  M %s\n", p)
		}
	}
	if len(cs.Deleted) > 0 {
		fmt.Fprintln(e.out, "Deleted locally (will be removed on push with --delete):")
		for _, p := range cs.Deleted {
			fmt.Fprintf(e.out, "  D %s\n", p)
		}
	}
	return cs, nil
}

// Push uploads local changes in two phases: tracked entries first
// (update / delete / conflict check), then untracked files (create).
// The manifest is persisted after every successful mutation so an
// interrupted run loses at most the in-flight item.
func (e *Engine) Push(ctx context.Context, opts PushOptions) (*PushReport, error) {
	if err := checkCategory(opts.Category); err != nil {
		return nil, err
	}
	man, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}

	rep := &PushReport{}
	if err := e.pushTracked(ctx, man, opts, rep); err != nil {
		return nil, err
	}
	if err := e.pushUntracked(ctx, man, opts, rep); err != nil {
		return nil, err
	}

	if rep.Empty() {
		fmt.Fprintln(e.out, "Nothing to push — no changes detected.")
	} else {
		fmt.Fprintf(e.out, "Push complete: %s.\n", rep.summary())
	}
	return rep, nil
}

func (e *Engine) pushTracked(ctx context.Context, man manifest.Manifest, opts PushOptions, rep *PushReport) error {
	for _, rel := range man.Paths() {
		entry, _ := man.Get(rel)
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}

		// An unreadable file is treated the same as a missing one:
		// absence is not distinguished from unreadability.
		content, readErr := e.fs.Read(rel)
		if readErr != nil {
			if !opts.Delete {
				fmt.Fprintf(e.out, "  skipped  %s (deleted locally; re-run with --delete to remove remotely)\n", rel)
				rep.Skipped++
				continue
			}
			if err := e.remote.Delete(ctx, entry.ID); err != nil {
				if fatalRemote(err) {
					return err
				}
				fmt.Fprintf(e.out, "  error deleting %s: %v\n", rel, err)
				rep.Errors++
				continue
			}
			man.Remove(rel)
			if err := e.man.Save(man); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "  deleted  %s\n", rel)
			rep.Deleted++
			continue
		}

		// An entry with no stored hash cannot prove it is unchanged, so
		// it always goes through the version check and update.
		current := checksum.Sum(content)
		if current == entry.ContentHash {
			continue
		}

		remoteDoc, err := e.remote.Get(ctx, entry.ID)
		if err != nil {
			if fatalRemote(err) {
				return err
			}
			fmt.Fprintf(e.out, "  error checking %s: %v\n", rel, err)
			rep.Errors++
			continue
		}
		if remoteDoc.Version != entry.Version {
			fmt.Fprintf(e.out, "  conflict %s: local version %d != server version %d\n",
				rel, entry.Version, remoteDoc.Version)
			fmt.Fprintln(e.out, "           Run `mdlm pull` to get the latest, then re-apply your edits.")
			rep.Conflicts++
			continue
		}

		doc, err := e.remote.Update(ctx, entry.ID, entry.Title, string(content), entry.Category, opts.Message)
		if err != nil {
			if fatalRemote(err) {
				return err
			}
			fmt.Fprintf(e.out, "  error updating %s: %v\n", rel, err)
			rep.Errors++
			continue
		}
		entry.Version = doc.Version
		entry.ContentHash = current
		man.Add(rel, entry)
		if err := e.man.Save(man); err != nil {
			return err
		}
		fmt.Fprintf(e.out, "  updated  %s (v%d)\n", rel, doc.Version)
		rep.Updated++
	}
	return nil
}

func (e *Engine) pushUntracked(ctx context.Context, man manifest.Manifest, opts PushOptions, rep *PushReport) error {
	files, err := e.fs.ListDocs()
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, tracked := man.Get(f.Path); tracked {
			continue
		}
		category := storage.InferCategory(f.Path)
		if opts.Category != "" && category != opts.Category {
			continue
		}

		content, err := e.fs.Read(f.Path)
		if err != nil {
			fmt.Fprintf(e.out, "  error reading %s: %v\n", f.Path, err)
			rep.Errors++
			continue
		}
		title := path.Base(f.Path)

		doc, err := e.remote.Create(ctx, title, string(content), category)
		if err != nil {
			if fatalRemote(err) {
				return err
			}
			fmt.Fprintf(e.out, "  error creating %s: %v\n", f.Path, err)
			rep.Errors++
			continue
		}
		man.Add(f.Path, manifest.Entry{
			ID:          doc.ID,
			Version:     doc.Version,
			Category:    doc.Category,
			Title:       doc.Title,
			ContentHash: checksum.Sum(content),
		})
		if err := e.man.Save(man); err != nil {
			return err
		}
		fmt.Fprintf(e.out, "  created  %s\n", f.Path)
		rep.Created++
	}
	return nil
}

func (r *PushReport) summary() string {
	var s string
	add := func(n int, label string) {
		if n == 0 {
			return
		}
		if s != "" {
			s += ", "
		}
		s += fmt.Sprintf("%d %s", n, label)
	}
	add(r.Created, "created")
	add(r.Updated, "updated")
	add(r.Deleted, "deleted")
	add(r.Skipped, "skipped")
	add(r.Conflicts, "conflict(s)")
	add(r.Errors, "error(s)")
	return s
}

func (e *Engine) loadInitialized() (manifest.Manifest, error) {
	if !e.man.IsInitialized() {
		return nil, fmt.Errorf("no manifest found, run `mdlm clone` first: %w", apperr.ErrNotInitialized)
	}
	return e.man.Load()
}
