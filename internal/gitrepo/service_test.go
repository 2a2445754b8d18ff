package gitrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"notegate/api/internal/fault"
	"notegate/api/internal/store"
)

func note(version int, content string) store.Note {
	return store.Note{
		ID:            "note-1",
		Title:         "Plan",
		Content:       content,
		VersionNumber: version,
		UpdatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(version) * time.Minute),
	}
}

func TestMirrorLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir, nil)

	for v, body := range []string{"first", "second", "first"} {
		commit, written, err := svc.CommitVersion(note(v+1, body), "Avery Stone")
		if err != nil {
			t.Fatalf("CommitVersion(%d) error = %v", v+1, err)
		}
		if !written || commit.Hash == "" || commit.Version != v+1 {
			t.Fatalf("unexpected commit for version %d: %+v written=%v", v+1, commit, written)
		}
	}
	if _, err := os.Stat(filepath.Join(tempDir, "note-1", contentFile)); err != nil {
		t.Fatalf("mirror file missing: %v", err)
	}

	history, err := svc.History("note-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(history))
	}
	if history[0].Version != 3 || history[2].Version != 1 {
		t.Fatalf("expected newest first, got %+v", history)
	}
	if history[0].Author != "Avery Stone" {
		t.Fatalf("unexpected author %q", history[0].Author)
	}

	limited, err := svc.History("note-1", 2)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(limited))
	}

	second, err := svc.ContentAt("note-1", 2)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if second.Content != "second" || second.Version != 2 {
		t.Fatalf("unexpected content: %+v", second)
	}
	if _, err := svc.ContentAt("note-1", 9); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown version, got %v", err)
	}
}

func TestMirrorSkipsStaleVersions(t *testing.T) {
	svc := New(t.TempDir(), nil)

	if _, _, err := svc.CommitVersion(note(3, "three"), "a"); err != nil {
		t.Fatalf("CommitVersion(3) error = %v", err)
	}
	_, written, err := svc.CommitVersion(note(2, "two"), "a")
	if err != nil {
		t.Fatalf("CommitVersion(2) error = %v", err)
	}
	if written {
		t.Fatal("stale version should not be mirrored")
	}
	history, err := svc.History("note-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Version != 3 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestConcurrentCommitsStaySerialized(t *testing.T) {
	svc := New(t.TempDir(), nil)
	if _, _, err := svc.CommitVersion(note(1, "base"), "a"); err != nil {
		t.Fatalf("CommitVersion(1) error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for v := 2; v <= 5; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if _, _, err := svc.CommitVersion(note(v, "body"), "a"); err != nil {
				errs <- err
			}
		}(v)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent commit error = %v", err)
	}

	history, err := svc.History("note-1", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if history[0].Version != 5 {
		t.Fatalf("expected head at version 5, got %d", history[0].Version)
	}
}

func TestRemove(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir, nil)
	if _, _, err := svc.CommitVersion(note(1, "x"), "a"); err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	if err := svc.Remove("note-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "note-1")); !os.IsNotExist(err) {
		t.Fatalf("expected mirror removed, stat err = %v", err)
	}
	if err := svc.Remove("note-1"); err != nil {
		t.Fatalf("Remove() on missing mirror error = %v", err)
	}
}

func TestCommitAfterRemoveIsIgnored(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir, nil)
	if _, _, err := svc.CommitVersion(note(1, "x"), "a"); err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	if err := svc.Remove("note-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	svc.lockMu.Lock()
	_, held := svc.locks["note-1"]
	svc.lockMu.Unlock()
	if held {
		t.Fatal("expected lock entry dropped on remove")
	}

	_, written, err := svc.CommitVersion(note(2, "late"), "a")
	if err != nil {
		t.Fatalf("late CommitVersion() error = %v", err)
	}
	if written {
		t.Fatal("late version of a removed note should not be mirrored")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "note-1")); !os.IsNotExist(err) {
		t.Fatalf("mirror recreated for removed note, stat err = %v", err)
	}
	if _, err := svc.History("note-1", 0); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected NotFound history for removed note, got %v", err)
	}
}

func TestHooksDoNotResurrectRemovedMirror(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir, nil)
	ctx := context.Background()
	if _, _, err := svc.CommitVersion(note(1, "x"), "a"); err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}

	// Delete lands before a queued change hook runs.
	svc.NoteDeleted(ctx, "note-1")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(tempDir, "note-1")); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("mirror was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, _, err := svc.CommitVersion(note(2, "late"), "a"); err != nil {
		t.Fatalf("late CommitVersion() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "note-1")); !os.IsNotExist(err) {
		t.Fatalf("hook recreated removed mirror, stat err = %v", err)
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Stone": "Avery.Stone",
		"usr_123":     "usr.123",
		"!!!":         "user",
	}
	for input, want := range cases {
		if got := sanitizeEmail(input); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", input, got, want)
		}
	}
}
