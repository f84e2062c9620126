package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
)

// Lock is a per-store run lock file under <root>/_locks.
type Lock struct {
	path string
}

// AcquireLock creates <dir>/<store>.lock exclusively. A lock older than
// staleAfter is taken over; staleAfter <= 0 never takes over.
func AcquireLock(dir, store string, staleAfter time.Duration, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	path := filepath.Join(dir, store+".lock")

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock: %w", errors.Join(werr, cerr))
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		st, statErr := os.Stat(path)
		if statErr != nil {
			// released between our open and stat
			continue
		}
		age := time.Since(st.ModTime())
		if staleAfter <= 0 || age < staleAfter {
			return nil, fmt.Errorf("%w: %s", common.ErrStoreLocked, path)
		}
		logger.Warn("ingest.lock.stale", "store", store, "path", path, "age", age.Round(time.Second).String())
		if err := takeOver(path, st); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", common.ErrStoreLocked, path)
}

// takeOver moves the lock at path aside and discards it only if it is still
// the file judged stale. A fresh lock moved by a racing runner is linked
// back and the store stays locked.
func takeOver(path string, stale fs.FileInfo) error {
	aside := fmt.Sprintf("%s.stale-%d-%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("move stale lock: %w", err)
	}
	got, err := os.Stat(aside)
	if err != nil {
		return fmt.Errorf("stat stale lock: %w", err)
	}
	if !os.SameFile(stale, got) {
		linkErr := os.Link(aside, path)
		_ = os.Remove(aside)
		if linkErr != nil && !errors.Is(linkErr, fs.ErrExist) {
			return fmt.Errorf("restore lock: %w", linkErr)
		}
		return fmt.Errorf("%w: %s", common.ErrStoreLocked, path)
	}
	_ = os.Remove(aside)
	return nil
}

// Touch marks the lock as alive.
func (l *Lock) Touch() error {
	now := time.Now()
	return os.Chtimes(l.path, now, now)
}

// KeepAlive touches the lock every interval until ctx is done or the
// returned stop func is called. Long passes stay ahead of staleAfter.
func (l *Lock) KeepAlive(ctx context.Context, every time.Duration, logger *slog.Logger) (stop func()) {
	if every <= 0 {
		return func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				if err := l.Touch(); err != nil {
					logger.Warn("ingest.lock.touch_failed", "path", l.path, "error", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Lock) Path() string { return l.path }
