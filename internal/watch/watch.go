// Package watch reruns a callback when weave sources change on disk.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 300 * time.Millisecond

// Watcher batches change events for files with one extension under a set of
// directories and fires OnChange once the burst settles.
type Watcher struct {
	Dirs     []string
	Ext      string
	Debounce time.Duration
	// OnChange receives the files changed since the previous call.
	OnChange func(ctx context.Context, changed []string)
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	seen := map[string]bool{}
	for _, dir := range w.Dirs {
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := fsw.Add(dir); err != nil {
			return err
		}
		slog.Debug("watching directory", slog.String("dir", dir))
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ticker := time.NewTicker(debounce / 4)
	defer ticker.Stop()

	changed := map[string]bool{}
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.Ext != "" && filepath.Ext(event.Name) != w.Ext {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			changed[event.Name] = true
			last = time.Now()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", slog.Any("error", err))

		case now := <-ticker.C:
			if len(changed) == 0 || now.Sub(last) < debounce {
				continue
			}
			names := make([]string, 0, len(changed))
			for name := range changed {
				names = append(names, name)
			}
			sort.Strings(names)
			clear(changed)
			w.OnChange(ctx, names)
		}
	}
}
