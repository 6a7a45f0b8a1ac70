// Package dropdir watches a directory for record files and hands each one to
// a handler exactly once. Handled files are moved to done/, failed ones to
// failed/ next to a .error file describing the failure.
package dropdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/njoerd114/batchrelay/internal/record"
)

const (
	// DoneDir and FailedDir are created inside the watched directory.
	DoneDir   = "done"
	FailedDir = "failed"

	// DefaultSettle is how long a file must stay quiet before it is handled,
	// so partially written files are not picked up.
	DefaultSettle = 500 * time.Millisecond
)

// Handler processes one record file. A non-nil error moves the file to
// failed/.
type Handler func(ctx context.Context, path string) error

// Watcher feeds files dropped into a directory to a Handler, one at a time.
type Watcher struct {
	dir    string
	handle Handler
	settle time.Duration
	log    *slog.Logger
}

// New creates a Watcher for dir, creating the done/ and failed/
// subdirectories. A settle of zero or less uses DefaultSettle.
func New(dir string, handle Handler, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("drop directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("drop directory %q is not a directory", dir)
	}
	for _, sub := range []string{DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{dir: dir, handle: handle, settle: settle, log: logger}, nil
}

// ProcessExisting handles every record file already in the directory, in
// name order, and returns how many were handled.
func (w *Watcher) ProcessExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("listing drop directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && record.IsRecordFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		w.process(ctx, filepath.Join(w.dir, name))
	}
	return len(names), nil
}

// Run handles existing files, then watches for new ones until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %q: %w", w.dir, err)
	}

	if _, err := w.ProcessExisting(ctx); err != nil {
		return err
	}
	w.log.Info("watching drop directory", "dir", w.dir)

	deb := newDebouncer(ctx, w.settle)
	defer deb.stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("drop directory watcher shutting down")
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(ev.Name) != filepath.Clean(w.dir) || !record.IsRecordFile(ev.Name) {
				continue
			}
			deb.touch(ev.Name)

		case s := <-deb.ready:
			if !deb.done(s) {
				continue // a later event restarted the quiet period
			}
			w.process(ctx, s.path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return
	}

	w.log.Info("processing dropped file", "file", filepath.Base(path))
	herr := w.handle(ctx, path)

	target := DoneDir
	if herr != nil {
		target = FailedDir
		w.log.Error("dropped file failed", "file", filepath.Base(path), "error", herr)
	}

	moved, err := w.move(path, target)
	if err != nil {
		w.log.Error("moving dropped file", "file", path, "to", target, "error", err)
		return
	}
	if herr != nil {
		msg := []byte(herr.Error() + "\n")
		if err := os.WriteFile(moved+".error", msg, 0o644); err != nil {
			w.log.Warn("writing error file", "file", moved, "error", err)
		}
		return
	}
	w.log.Info("dropped file done", "file", filepath.Base(moved))
}

// move renames path into the named subdirectory, adding a timestamp when a
// file with the same name is already there.
func (w *Watcher) move(path, sub string) (string, error) {
	base := filepath.Base(path)
	dest := filepath.Join(w.dir, sub, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		stamp := time.Now().UTC().Format("20060102T150405.000000000")
		dest = filepath.Join(w.dir, sub, base[:len(base)-len(ext)]+"."+stamp+ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
