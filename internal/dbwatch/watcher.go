// Package dbwatch invalidates the scan engine when its database changes on disk.
package dbwatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last change before the
// engine is invalidated. Updaters write several files in a burst.
const DefaultDebounce = 2 * time.Second

var watchedExtensions = map[string]bool{
	".cvd":  true,
	".cld":  true,
	".cud":  true,
	".yar":  true,
	".yara": true,
}

// Watcher watches a database directory and its heuristics/ subdirectory
type Watcher struct {
	Debounce time.Duration

	target  engine.Invalidator
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu   sync.Mutex
	dirs []string
}

func New(dir string, target engine.Invalidator, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		Debounce: DefaultDebounce,
		target:   target,
		watcher:  fw,
		logger:   logger.Named("dbwatch"),
	}
	if err := w.Retarget(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Retarget switches the watch to another database directory
func (w *Watcher) Retarget(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, d := range w.dirs {
		_ = w.watcher.Remove(d)
	}
	w.dirs = nil

	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs = append(w.dirs, dir)

	heuristics := filepath.Join(dir, "heuristics")
	if info, err := os.Stat(heuristics); err == nil && info.IsDir() {
		if err := w.watcher.Add(heuristics); err == nil {
			w.dirs = append(w.dirs, heuristics)
		}
	}

	w.logger.Info("watching database directory", zap.String("dir", dir))
	return nil
}

// Dirs returns the directories currently watched
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.dirs...)
}

// Run processes changes until ctx ends, then closes the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}

			w.logger.Debug("database file changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()))

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.logger.Info("database changed, invalidating engine")
			w.target.Invalidate()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("database watcher error", zap.Error(err))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return watchedExtensions[strings.ToLower(filepath.Ext(event.Name))]
}
