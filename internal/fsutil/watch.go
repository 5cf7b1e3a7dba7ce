package fsutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports batches of new or changed images in a directory. Events
// are debounced: a batch is delivered once the directory has been quiet for
// the debounce period.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(dir string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, debounce: debounce, logger: logger}
}

// Run blocks until ctx is done, calling onChange with the paths touched in
// each quiet-period batch. onChange runs on the watcher goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(paths []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching directory", "dir", w.dir, "debounce", w.debounce)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !IsImageFile(event.Name) {
				continue
			}
			w.logger.Debug("image changed", "path", event.Name, "op", event.Op.String())
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			SortNatural(paths)
			clear(pending)
			onChange(paths)
		}
	}
}
