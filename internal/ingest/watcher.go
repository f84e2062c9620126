package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Layout   Layout
	Stores   []string
	Debounce time.Duration // coalesce rapid create/write/rename bursts
	Logger   *slog.Logger
}

// StartWatcher watches the inbox of every store and emits a store name
// whenever an accepted file appears or changes there. Events for the same
// store within the debounce window collapse into one.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Stores) == 0 {
		logger.Error("ingest.watch.failed", "error", "no stores provided")
		return nil, nil, errors.New("no stores provided")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("ingest.watch.failed", "error", err)
		return nil, nil, err
	}

	dirs := make(map[string]string, len(cfg.Stores))
	for _, store := range cfg.Stores {
		dir := filepath.Clean(cfg.Layout.Inbox(store))
		if err := w.Add(dir); err != nil {
			logger.Error("ingest.watch.add_failed", "store", store, "dir", dir, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
		dirs[dir] = store
	}

	evCh := make(chan string, len(cfg.Stores))
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(evCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("ingest.watch.close_failed", "error", err)
			}
		}()

		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time

		flush := func() {
			for store := range pending {
				select {
				case evCh <- store:
				case <-ctx.Done():
					return
				}
				delete(pending, store)
			}
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if IsHidden(e.Name) || !AllowedExt(filepath.Ext(e.Name)) {
					continue
				}
				store, ok := dirs[filepath.Dir(e.Name)]
				if !ok {
					continue
				}
				pending[store] = struct{}{}
				if cfg.Debounce <= 0 {
					flush()
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(cfg.Debounce)
				fire = timer.C
			case <-fire:
				fire = nil
				flush()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("ingest.watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
