package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads the registry when its definition file changes.
// The parent directory is watched so atomic replace-by-rename saves are seen.
type Watcher struct {
	reg      *Registry
	path     string
	debounce time.Duration
}

func NewWatcher(reg *Registry, path string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{reg: reg, path: path, debounce: debounce}
}

// Serve blocks until ctx is done. Reload errors are logged by the registry
// and leave it unchanged.
func (w *Watcher) Serve(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	target, err := filepath.Abs(w.path)
	if err != nil {
		target = filepath.Clean(w.path)
	}
	dir := filepath.Dir(target)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("registry watcher: watch %s: %w", dir, err)
	}
	slog.Info("watching registry file", "path", target)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("registry watcher error", "error", err)
		case <-timer.C:
			slog.Info("registry file changed, reloading", "path", target)
			_ = w.reg.Reload()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) String() string { return "registry-watcher" }
