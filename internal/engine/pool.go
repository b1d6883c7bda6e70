// internal/engine/pool.go
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/FairForge/vaultscan/internal/metrics"
	"go.uber.org/zap"
)

// DefaultGrace is how long an idle engine stays resident before disposal
const DefaultGrace = 5 * time.Minute

// Config is the configured state the pool builds from
type Config struct {
	// DatabasePath is the signature directory; empty means SystemDatabasePath
	DatabasePath       string
	SystemDatabasePath string
	Grace              time.Duration
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Locks           uint      `json:"locks"`
	Loaded          bool      `json:"loaded"`
	DisposalPending bool      `json:"disposal_pending"`
	Deadline        time.Time `json:"deadline,omitempty"`
	Builds          int       `json:"builds"`
	DatabasePath    string    `json:"database_path"`
	Stale           bool      `json:"stale"`
	// Files is the database file count of the resident handle, when known
	Files int `json:"files,omitempty"`
}

// Pool owns at most one live engine handle and shares it between
// concurrent users. The handle is built on first acquisition and disposed
// once it has been unused for the grace period.
//
// Invariants, held under mu:
//   - locks > 0 means no disposal is armed
//   - handle == nil means locks == 0
//   - a disposal is armed iff locks == 0 and handle != nil
type Pool struct {
	mu      sync.Mutex
	builder Builder
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	handle   Handle
	locks    uint
	timer    *time.Timer
	deadline time.Time
	// generation is bumped whenever a pending disposal is cancelled or
	// superseded, so a timer that already fired can tell it is stale
	generation uint64
	stale      bool
	builds     int
	closed     bool
	initErr    error
}

// NewPool creates a pool. If the builder needs one-time library
// initialisation it runs here; a failure makes every Acquire fail.
func NewPool(builder Builder, config Config, logger *zap.Logger, m *metrics.Metrics) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Grace <= 0 {
		config.Grace = DefaultGrace
	}

	p := &Pool{
		builder: builder,
		config:  config,
		logger:  logger.Named("engine"),
		metrics: m,
	}

	if initializer, ok := builder.(Initializer); ok {
		if err := initializer.Init(); err != nil {
			p.initErr = err
			p.logger.Error("engine library initialisation failed", zap.Error(err))
		}
	}

	return p
}

// Acquire returns the shared handle, building it if none is resident.
// Construction happens under the pool mutex, so concurrent callers never
// build twice. A failed build leaves the pool empty and the next call
// retries.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initErr != nil {
		return nil, WrapError(ErrEngineUninitialized, p.initErr.Error())
	}
	if p.closed {
		return nil, ErrPoolClosed
	}

	p.cancelDisposalLocked()

	if p.handle == nil {
		path := p.databasePathLocked()
		start := time.Now()

		h, err := p.builder.Build(ctx, path)
		p.metrics.RecordBuild(err)
		if err != nil {
			p.logger.Error("engine construction failed",
				zap.String("database", path),
				zap.Error(err))
			return nil, ErrConstruction(path, err)
		}

		p.handle = h
		p.builds++
		p.stale = false
		p.metrics.SetEngineLoaded(true)
		p.logger.Info("engine constructed",
			zap.String("database", path),
			zap.Duration("took", time.Since(start)))
	}

	p.locks++
	p.metrics.SetEngineLocks(p.locks)

	return p.handle, nil
}

// Release gives back one lock. When the last lock goes the handle is
// scheduled for disposal after the grace period, or disposed at once if
// it was invalidated while in use. After Close every lock is already
// gone, so a late release reports ErrPoolClosed.
func (p *Pool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Debug("engine released after pool close")
		return ErrPoolClosed
	}
	if p.locks == 0 {
		p.logger.DPanic("engine released with zero locks")
		return ErrNotAcquired
	}

	p.dropLockLocked()
	return nil
}

// Detach drops one lock on behalf of a user that will never release it,
// such as a scan abandoned at shutdown
func (p *Pool) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Debug("engine detached after pool close")
		return ErrPoolClosed
	}
	if p.locks == 0 {
		p.logger.Warn("engine detach with zero locks")
		return ErrNotAcquired
	}

	p.logger.Warn("detaching engine lock from unresponsive user",
		zap.Uint("locks", p.locks))
	p.dropLockLocked()
	return nil
}

// Invalidate marks the resident handle stale. An idle handle is disposed
// now; one in use is disposed on its last release. The next Acquire
// rebuilds from the database.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.invalidateLocked()
}

// SetDatabasePath changes the signature directory and invalidates the
// resident handle. An empty path selects the system databases.
func (p *Pool) SetDatabasePath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.DatabasePath == path {
		return
	}

	p.logger.Info("database path changed",
		zap.String("from", p.config.DatabasePath),
		zap.String("to", path))
	p.config.DatabasePath = path
	p.invalidateLocked()
}

// DatabasePath returns the directory the next build will load
func (p *Pool) DatabasePath() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.databasePathLocked()
}

// Close tears the handle down regardless of outstanding locks. Any later
// Acquire fails with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.locks > 0 {
		p.logger.Error("engine pool closed while in use",
			zap.Uint("locks", p.locks))
		p.locks = 0
		p.metrics.SetEngineLocks(0)
	}

	return p.disposeLocked()
}

// Stats returns the current pool state
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Locks:           p.locks,
		Loaded:          p.handle != nil,
		DisposalPending: p.timer != nil,
		Deadline:        p.deadline,
		Builds:          p.builds,
		DatabasePath:    p.databasePathLocked(),
		Stale:           p.stale,
	}
	if sized, ok := p.handle.(Sized); ok {
		stats.Files = sized.Files()
	}
	return stats
}

func (p *Pool) databasePathLocked() string {
	if p.config.DatabasePath == "" {
		return p.config.SystemDatabasePath
	}
	return p.config.DatabasePath
}

func (p *Pool) dropLockLocked() {
	p.locks--
	p.metrics.SetEngineLocks(p.locks)

	if p.locks > 0 {
		return
	}
	if p.stale {
		_ = p.disposeLocked()
		return
	}
	p.armDisposalLocked()
}

func (p *Pool) invalidateLocked() {
	if p.handle == nil {
		return
	}
	if p.locks == 0 {
		_ = p.disposeLocked()
		return
	}
	p.stale = true
}

func (p *Pool) armDisposalLocked() {
	p.cancelDisposalLocked()

	gen := p.generation
	p.deadline = time.Now().Add(p.config.Grace)
	p.timer = time.AfterFunc(p.config.Grace, func() {
		p.expire(gen)
	})
}

func (p *Pool) cancelDisposalLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.deadline = time.Time{}
	p.generation++
}

// expire runs on the timer goroutine
func (p *Pool) expire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || p.locks > 0 || p.handle == nil {
		return
	}

	p.logger.Debug("grace period elapsed, disposing idle engine")
	_ = p.disposeLocked()
}

func (p *Pool) disposeLocked() error {
	p.cancelDisposalLocked()
	p.stale = false

	if p.handle == nil {
		return nil
	}

	err := p.handle.Close()
	p.handle = nil
	p.metrics.RecordDisposal()
	p.metrics.SetEngineLoaded(false)

	if err != nil {
		p.logger.Warn("engine close failed", zap.Error(err))
		return WrapError(err, "dispose engine")
	}
	p.logger.Info("engine disposed")
	return nil
}
