package scanner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/metrics"
	"go.uber.org/zap"
)

// DefaultCounterWait bounds how long a new count waits for the previous one
const DefaultCounterWait = 3 * time.Second

type countTask struct {
	runID     string
	cancelled atomic.Bool
	done      chan struct{}
}

// FileCounter tallies the regular files under a set of roots in the
// background. The result is optional: it stays absent until a count
// finishes without being aborted or cancelled.
type FileCounter struct {
	emitter events.Emitter
	logger  *zap.Logger
	metrics *metrics.Metrics
	wait    time.Duration
	locale  string
	hidden  bool

	// visit sees every counted file before it is tallied
	visit func(runID, path string)

	mu      sync.Mutex
	current *countTask
	count   int
	known   bool
}

func NewFileCounter(emitter events.Emitter, cfg Config, logger *zap.Logger, m *metrics.Metrics) *FileCounter {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.EmitterFunc(func(events.Event) {})
	}
	return &FileCounter{
		emitter: emitter,
		logger:  logger.Named("counter"),
		metrics: m,
		wait:    cfg.CounterWait,
		locale:  cfg.Locale,
		hidden:  cfg.IncludeHidden,
	}
}

// Start begins counting paths. A previous count still in progress is
// given a short grace period and then cancelled. abort is the run's abort
// flag and may be nil.
func (c *FileCounter) Start(runID string, paths []string, abort *atomic.Bool) {
	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.done:
		case <-time.After(c.wait):
			c.logger.Warn("previous file count did not exit gracefully",
				zap.String("run_id", prev.runID))
			prev.cancelled.Store(true)
		}
	}

	task := &countTask{runID: runID, done: make(chan struct{})}

	c.mu.Lock()
	c.current = task
	c.count = 0
	c.known = false
	c.mu.Unlock()

	roots := append([]string(nil), paths...)
	go c.run(task, roots, abort)
}

func (c *FileCounter) run(task *countTask, roots []string, abort *atomic.Bool) {
	defer close(task.done)

	total := 0
	w := &walker{
		lister:    newLister(c.locale, c.hidden),
		visited:   NewVisitSet(),
		logger:    c.logger,
		metrics:   c.metrics,
		abort:     abort,
		cancelled: &task.cancelled,
		onFile: func(path string) {
			if c.visit != nil {
				c.visit(task.runID, path)
			}
			total++
		},
	}
	w.walkAll(roots)
	c.logger.Debug("file count walked",
		zap.String("run_id", task.runID),
		zap.Int("directories", w.visited.Len()))
	w.visited.Clear()

	if w.stopped() {
		c.logger.Debug("file count abandoned", zap.String("run_id", task.runID))
		return
	}

	c.mu.Lock()
	if c.current != task {
		c.mu.Unlock()
		return
	}
	c.count = total
	c.known = true
	c.mu.Unlock()

	c.emitter.Emit(events.Event{
		Type:  events.FileCountDone,
		RunID: task.runID,
		Count: total,
	})
}

// Wait blocks until the current count, if any, has stopped
func (c *FileCounter) Wait() {
	c.mu.Lock()
	task := c.current
	c.mu.Unlock()

	if task != nil {
		<-task.done
	}
}

// Cancel abandons the current count
func (c *FileCounter) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.cancelled.Store(true)
	}
}

// Count returns the last published total
func (c *FileCounter) Count() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.count, c.known
}

// Reset clears the published total, for example when the paths change
func (c *FileCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count = 0
	c.known = false
}

// Running reports whether a count is in progress
func (c *FileCounter) Running() bool {
	c.mu.Lock()
	task := c.current
	c.mu.Unlock()

	if task == nil {
		return false
	}
	select {
	case <-task.done:
		return false
	default:
		return true
	}
}
