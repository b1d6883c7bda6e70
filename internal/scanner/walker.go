package scanner

import (
	"os"
	"sync/atomic"

	"github.com/FairForge/vaultscan/internal/metrics"
	"go.uber.org/zap"
)

// walker performs one depth-first pass. The scan and the file count each
// run their own walker with their own VisitSet.
type walker struct {
	lister  *lister
	visited *VisitSet
	logger  *zap.Logger
	metrics *metrics.Metrics

	abort     *atomic.Bool
	cancelled *atomic.Bool

	// onMissing is called for roots and entries that do not exist
	onMissing func(path string)
	onFile    func(path string)
}

func (w *walker) stopped() bool {
	if w.abort != nil && w.abort.Load() {
		return true
	}
	return w.cancelled != nil && w.cancelled.Load()
}

// walkAll visits each root in order until the walk is stopped
func (w *walker) walkAll(roots []string) {
	for _, root := range roots {
		if w.stopped() {
			return
		}
		w.walk(root)
	}
}

func (w *walker) walk(path string) {
	if w.stopped() {
		return
	}

	// Stat follows symlinks, so a dangling link reads as missing
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Debug("cannot stat path", zap.String("path", path), zap.Error(err))
		}
		if w.onMissing != nil {
			w.onMissing(path)
		}
		return
	}

	switch {
	case info.IsDir():
		canonical, err := Canonical(path)
		if err != nil {
			w.logger.Warn("cannot resolve directory", zap.String("path", path), zap.Error(err))
			return
		}
		if !w.visited.Visit(canonical) {
			return
		}

		children, err := w.lister.list(path)
		if err != nil {
			w.logger.Warn("cannot list directory", zap.String("path", path), zap.Error(err))
			w.metrics.RecordListingError()
		}

		for _, child := range children {
			if w.stopped() {
				return
			}
			w.walk(child)
		}

	case info.Mode().IsRegular():
		w.onFile(path)

	default:
		w.logger.Debug("skipping unscannable path",
			zap.String("path", path),
			zap.Stringer("mode", info.Mode()))
	}
}
