package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mdlm/internal/index"
	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/testutil"
)

// eventually polls fn until it returns true or the timeout expires.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatal(msg)
}

func TestWatchIndexesChanges(t *testing.T) {
	db := testutil.TestDB(t)
	_, _, store := testutil.TestWorkdir(t)

	// The watch root must exist before the watcher starts.
	if err := os.MkdirAll(filepath.Join(store.Root(), "knowledge"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- index.Watch(ctx, db, store, manifest.Manifest{}, discard(), nil)
	}()

	// Give the watcher a moment to register the root.
	time.Sleep(100 * time.Millisecond)

	docPath := filepath.Join(store.Root(), "knowledge", "a.md")
	if err := os.WriteFile(docPath, []byte("watched body"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		cs, err := db.AllChecksums()
		if err != nil {
			return false
		}
		_, ok := cs["knowledge/a.md"]
		return ok
	}, "created file never indexed")

	if err := os.Remove(docPath); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		cs, err := db.AllChecksums()
		if err != nil {
			return false
		}
		_, ok := cs["knowledge/a.md"]
		return !ok
	}, "removed file never dropped from index")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatchPicksUpNewDirectories(t *testing.T) {
	db := testutil.TestDB(t)
	_, _, store := testutil.TestWorkdir(t)
	if err := os.MkdirAll(filepath.Join(store.Root(), "knowledge"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = index.Watch(ctx, db, store, manifest.Manifest{}, discard(), nil)
	}()
	time.Sleep(100 * time.Millisecond)

	dir := filepath.Join(store.Root(), "knowledge", "security")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Wait out the debounce window, then write into the new directory.
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "auth.md"), []byte("tokens"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		cs, err := db.AllChecksums()
		if err != nil {
			return false
		}
		_, ok := cs["knowledge/security/auth.md"]
		return ok
	}, "file in new directory never indexed")
}
