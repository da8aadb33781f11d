package testid

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 200 * time.Millisecond

type WatcherOptions struct {
	// Debounce is how long to wait after the last change to a file before
	// annotating it. Default: 200ms.
	Debounce time.Duration
	// OnAnnotate is called after each debounced file has been processed.
	OnAnnotate func(info FileAnnotateInfo, err error)
}

// Watcher annotates matching files under a directory whenever they are
// written. Rewrites are idempotent, so the watcher's own writes settle after
// one extra pass that changes nothing.
type Watcher struct {
	manager  *DefaultManager
	root     string
	debounce time.Duration
	notify   func(FileAnnotateInfo, error)
	logger   *slog.Logger
}

func NewWatcher(manager *DefaultManager, root string, opts WatcherOptions) (*Watcher, error) {
	if err := manager.validator.ValidatePath(root); err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	return &Watcher{
		manager:  manager,
		root:     root,
		debounce: opts.Debounce,
		notify:   opts.OnAnnotate,
		logger:   manager.logger,
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", "root", w.root)

	pending := make(map[string]struct{})
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if event.Has(fsnotify.Create) && isDir(event.Name) {
				if err := w.addTree(fsw, event.Name); err != nil {
					w.logger.Warn("failed to watch directory", "path", event.Name, "error", err)
				}
				continue
			}

			if !w.manager.config.MatchesFile(event.Name) || w.manager.config.ExcludesFile(filepath.Base(event.Name)) {
				continue
			}

			pending[event.Name] = struct{}{}
			fire = time.After(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-fire:
			fire = nil
			w.flush(ctx, pending)
			clear(pending)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		info, err := w.manager.AnnotateFile(ctx, path, false)
		switch {
		case err != nil:
			w.logger.Warn("failed to annotate file", "path", path, "error", err)
		case info.Changed > 0:
			w.logger.Info("annotated file", "path", path, "changed", info.Changed)
		}

		if w.notify != nil {
			w.notify(info, err)
		}
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && slices.Contains(w.manager.config.ExcludeDirs, d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
