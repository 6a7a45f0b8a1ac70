package dropdir

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var testLogger = slog.Default()

func touch(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// recorder is a Handler that fails for files whose name contains "bad".
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
	if strings.Contains(path, "bad") {
		return errors.New("duplicates found")
	}
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestNew_CreatesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, (&recorder{}).handle, 0, testLogger); err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, sub := range []string{DoneDir, FailedDir} {
		if !exists(filepath.Join(dir, sub)) {
			t.Errorf("%s/ not created", sub)
		}
	}
}

func TestNew_RejectsMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope"), (&recorder{}).handle, 0, testLogger); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestProcessExisting_MovesFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.json"), "[]")
	touch(t, filepath.Join(dir, "bad.yaml"), "[]")
	touch(t, filepath.Join(dir, "notes.txt"), "ignore me")

	rec := &recorder{}
	w, err := New(dir, rec.handle, 0, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, err := w.ProcessExisting(context.Background())
	if err != nil {
		t.Fatalf("ProcessExisting: %v", err)
	}
	if n != 2 {
		t.Errorf("handled = %d, want 2", n)
	}
	if got := rec.seen(); len(got) != 2 || got[0] != "a.json" || got[1] != "bad.yaml" {
		t.Errorf("handled files = %v, want [a.json bad.yaml]", got)
	}

	if !exists(filepath.Join(dir, DoneDir, "a.json")) {
		t.Error("a.json not moved to done/")
	}
	if !exists(filepath.Join(dir, FailedDir, "bad.yaml")) {
		t.Error("bad.yaml not moved to failed/")
	}
	errFile := filepath.Join(dir, FailedDir, "bad.yaml.error")
	data, err := os.ReadFile(errFile)
	if err != nil {
		t.Fatalf("reading error file: %v", err)
	}
	if !strings.Contains(string(data), "duplicates found") {
		t.Errorf("error file = %q", data)
	}
	if !exists(filepath.Join(dir, "notes.txt")) {
		t.Error("non-record file should be left alone")
	}
}

func TestProcessExisting_NameClash(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(dir, rec.handle, 0, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	touch(t, filepath.Join(dir, "a.json"), "[]")
	if _, err := w.ProcessExisting(context.Background()); err != nil {
		t.Fatalf("first ProcessExisting: %v", err)
	}
	touch(t, filepath.Join(dir, "a.json"), "[]")
	if _, err := w.ProcessExisting(context.Background()); err != nil {
		t.Fatalf("second ProcessExisting: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, DoneDir))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("done/ has %d files, want 2", len(entries))
	}
}

func TestRun_HandlesNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(dir, rec.handle, 20*time.Millisecond, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before dropping the file.
	time.Sleep(100 * time.Millisecond)
	touch(t, filepath.Join(dir, "new.json"), "[]")

	deadline := time.Now().Add(3 * time.Second)
	for !exists(filepath.Join(dir, DoneDir, "new.json")) {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("new.json was not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if got := rec.seen(); len(got) != 1 {
		t.Errorf("handled %v, want exactly one call", got)
	}
}
