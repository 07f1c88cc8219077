package codeindex

import (
	"context"
	"log/slog"
	"time"

	"github.com/contextfabric/context-fabric/internal/watcher"
)

// DefaultDebounceWindow is the code index's filesystem-event coalescing
// window (spec §4.6), distinct from the teacher's default 200ms.
const DefaultDebounceWindow = 500 * time.Millisecond

// ChangeHandler is invoked once per debounced batch with the set of
// relative paths that changed (created, modified, or deleted).
type ChangeHandler func(ctx context.Context, paths []string)

// Watch starts a filesystem watch over root, reusing the project's hybrid
// fsnotify/polling watcher with a 500ms debounce window, and invokes
// handler with the deduplicated set of changed relative paths per batch.
// It blocks until ctx is cancelled or the watcher reports a fatal error.
func Watch(ctx context.Context, root string, handler ChangeHandler) error {
	hw, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: DefaultDebounceWindow,
		IgnorePatterns: ignoreDirPatterns(),
	})
	if err != nil {
		return err
	}
	if err := hw.Start(ctx, root); err != nil {
		return err
	}
	defer hw.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-hw.Events():
			if !ok {
				return nil
			}
			paths := dedupPaths(batch)
			if len(paths) > 0 {
				handler(ctx, paths)
			}
		case err, ok := <-hw.Errors():
			if !ok {
				continue
			}
			slog.Warn("codeindex watcher error", slog.String("error", err.Error()))
		}
	}
}

// ignoreDirPatterns translates the discovery package's fixed ignore-dir
// list into gitignore-style patterns for the watcher's own filtering.
func ignoreDirPatterns() []string {
	patterns := make([]string, 0, len(ignoredDirs))
	for dir := range ignoredDirs {
		patterns = append(patterns, dir+"/")
	}
	return patterns
}

func dedupPaths(batch []watcher.FileEvent) []string {
	seen := make(map[string]struct{}, len(batch))
	var out []string
	for _, ev := range batch {
		if _, ok := seen[ev.Path]; ok {
			continue
		}
		seen[ev.Path] = struct{}{}
		out = append(out, ev.Path)
	}
	return out
}
