package suites

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/procci/pkg/telemetry"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// watchedExts are the suffixes whose changes trigger a re-run.
var watchedExts = map[string]bool{
	".yaml": true,
	".yml":  true,
	".cue":  true,
	".star": true,
}

// Watcher calls a function whenever a manifest or script in a directory
// changes. Calls never overlap.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *telemetry.Logger
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, debounce time.Duration, logger *telemetry.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger.NewComponentLogger("watcher"),
	}
}

// Run blocks until ctx is done, calling onChange after each settled burst
// of changes. An error from onChange is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.WithField("dir", w.dir).Info("Watching test directory")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Suite file changed")
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Watcher error")

		case <-timer.C:
			if err := onChange(ctx); err != nil {
				w.logger.WithError(err).Error("Re-run failed")
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return watchedExts[strings.ToLower(filepath.Ext(base))]
}
