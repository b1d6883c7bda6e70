// Package scanner walks filesystem trees and classifies every regular file
// against the shared scan engine.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/vaultscan/internal/classify"
	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultShutdownWait bounds how long Shutdown waits for a run to stop
const DefaultShutdownWait = 20 * time.Second

// EnginePool is the part of engine.Pool a run needs
type EnginePool interface {
	Acquire(ctx context.Context) (engine.Handle, error)
	Release() error
	Detach() error
}

// Config tunes the orchestrator and its file counter
type Config struct {
	CounterWait   time.Duration
	ShutdownWait  time.Duration
	IncludeHidden bool
	Locale        string
}

func DefaultConfig() Config {
	return Config{
		CounterWait:   DefaultCounterWait,
		ShutdownWait:  DefaultShutdownWait,
		IncludeHidden: true,
		Locale:        "en",
	}
}

func (c Config) withDefaults() Config {
	if c.CounterWait <= 0 {
		c.CounterWait = DefaultCounterWait
	}
	if c.ShutdownWait <= 0 {
		c.ShutdownWait = DefaultShutdownWait
	}
	return c
}

// Request lists the roots to scan, in order
type Request struct {
	Paths []string `json:"paths"`
}

// Outcome is how a run ended
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "none"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{OutcomeNone, OutcomeCompleted, OutcomeFailed, OutcomeAborted} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown scan outcome %q", text)
}

// Snapshot is a point-in-time copy of a run's progress
type Snapshot struct {
	RunID      string       `json:"run_id"`
	Running    bool         `json:"running"`
	Paths      []string     `json:"paths"`
	Started    time.Time    `json:"started"`
	Finished   time.Time    `json:"finished,omitempty"`
	Scanned    int          `json:"scanned"`
	Failed     int          `json:"failed"`
	Bytes      int64        `json:"bytes"`
	IssueCount int          `json:"issue_count"`
	Issues     []FileIssues `json:"issues"`
	Total      int          `json:"total"`
	TotalKnown bool         `json:"total_known"`
	// Counting is set while the background file count is still walking
	Counting bool    `json:"counting"`
	Outcome  Outcome `json:"outcome"`
}

type run struct {
	id      string
	paths   []string
	started time.Time
	abort   atomic.Bool
	done    chan struct{}

	// engineHeld is set once the run holds a lock; lockDropped makes
	// sure exactly one of release and detach gives it back
	engineHeld  atomic.Bool
	lockDropped atomic.Bool

	mu       sync.Mutex
	scanned  int
	failed   int
	bytes    int64
	issues   []FileIssues
	outcome  Outcome
	finished time.Time
}

func (r *run) addIssue(path string, issue Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.issues); n > 0 && r.issues[n-1].Path == path {
		r.issues[n-1].Issues = append(r.issues[n-1].Issues, issue)
		return
	}
	r.issues = append(r.issues, FileIssues{Path: path, Issues: []Issue{issue}})
}

// issueCount counts files with at least one detection
func (r *run) issueCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, f := range r.issues {
		if f.HasDetection() {
			n++
		}
	}
	return n
}

// Orchestrator runs one scan at a time on its own goroutine and reports
// progress as events. It can be reused once a run has finished.
type Orchestrator struct {
	pool    EnginePool
	emitter events.Emitter
	counter *FileCounter
	config  Config
	options engine.ScanOptions
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	current *run
	running bool
	closed  bool
}

func New(pool EnginePool, emitter events.Emitter, config Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	config = config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.EmitterFunc(func(events.Event) {})
	}

	return &Orchestrator{
		pool:    pool,
		emitter: emitter,
		counter: NewFileCounter(emitter, config, logger, m),
		config:  config,
		options: engine.DefaultScanOptions(),
		logger:  logger.Named("scanner"),
		metrics: m,
	}
}

// Start launches a run over req and returns at once. It returns false,
// changing nothing, while another run is active.
func (o *Orchestrator) Start(req Request) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running || o.closed {
		o.logger.Debug("scan already running")
		return false
	}

	r := &run{
		id:      uuid.New().String(),
		paths:   append([]string(nil), req.Paths...),
		started: time.Now(),
		done:    make(chan struct{}),
	}
	o.current = r
	o.running = true
	o.counter.Reset()

	go o.execute(r)
	return true
}

// Abort asks the active run to stop. It does not wait.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.current.abort.Store(true)
	}
}

// Running reports whether a run is active
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.running
}

// Wait blocks until the latest run has finished or ctx ends
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()

	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileCount returns the counter's total for the latest run, if known
func (o *Orchestrator) FileCount() (int, bool) {
	return o.counter.Count()
}

// Snapshot copies the state of the latest run
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	r := o.current
	running := o.running
	o.mu.Unlock()

	if r == nil {
		return Snapshot{}
	}

	r.mu.Lock()
	s := Snapshot{
		RunID:    r.id,
		Running:  running,
		Paths:    append([]string(nil), r.paths...),
		Started:  r.started,
		Finished: r.finished,
		Scanned:  r.scanned,
		Failed:   r.failed,
		Bytes:    r.bytes,
		Outcome:  r.outcome,
		Issues:   make([]FileIssues, 0, len(r.issues)),
	}
	for _, f := range r.issues {
		s.Issues = append(s.Issues, FileIssues{
			Path:   f.Path,
			Issues: append([]Issue(nil), f.Issues...),
		})
		if f.HasDetection() {
			s.IssueCount++
		}
	}
	r.mu.Unlock()

	s.Total, s.TotalKnown = o.counter.Count()
	s.Counting = o.counter.Running()
	return s
}

// Shutdown aborts the active run and waits for it within the shutdown
// grace period. A run that does not stop in time is abandoned: its engine
// lock is detached from the pool and Shutdown returns anyway. No new runs
// start afterwards.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	r := o.current
	running := o.running
	o.mu.Unlock()

	if !running {
		return
	}

	r.abort.Store(true)
	o.counter.Cancel()

	timer := time.NewTimer(o.config.ShutdownWait)
	defer timer.Stop()

	select {
	case <-r.done:
		return
	case <-timer.C:
	}

	o.logger.Error("scan did not stop within the shutdown grace period, abandoning it",
		zap.String("run_id", r.id),
		zap.Duration("waited", o.config.ShutdownWait))

	if r.engineHeld.Load() && r.lockDropped.CompareAndSwap(false, true) {
		if err := o.pool.Detach(); err != nil && !errors.Is(err, engine.ErrPoolClosed) {
			o.logger.Warn("detach engine lock", zap.Error(err))
		}
	}
}

func (o *Orchestrator) emit(r *run, e events.Event) {
	e.RunID = r.id
	o.emitter.Emit(e)
}

func (o *Orchestrator) execute(r *run) {
	defer close(r.done)

	log := o.logger.With(zap.String("run_id", r.id))
	log.Info("scan started", zap.Strings("paths", r.paths))
	o.emit(r, events.Event{Type: events.ScanStarted, Paths: append([]string(nil), r.paths...)})

	handle, err := o.pool.Acquire(context.Background())
	if err != nil {
		log.Error("scan engine unavailable", zap.Error(err))
		o.setOutcome(r, OutcomeFailed)
		o.emit(r, events.Event{Type: events.ScanFailed, Reason: err.Error()})
		o.finish(r)
		return
	}
	r.engineHeld.Store(true)

	o.counter.Start(r.id, r.paths, &r.abort)

	w := &walker{
		lister:  newLister(o.config.Locale, o.config.IncludeHidden),
		visited: NewVisitSet(),
		logger:  log,
		metrics: o.metrics,
		abort:   &r.abort,
		onMissing: func(path string) {
			r.addIssue(path, Issue{Kind: NotFound})
			o.emit(r, events.Event{Type: events.PathNotFound, Path: path})
		},
		onFile: func(path string) {
			o.scanFile(r, handle, path)
		},
	}
	w.walkAll(r.paths)
	log.Debug("walk finished", zap.Int("directories", w.visited.Len()))
	// only needed to stop cycles during the walk
	w.visited.Clear()

	// a late count must not leak into the next run
	o.counter.Wait()

	issues := r.issueCount()
	r.mu.Lock()
	failed := r.failed
	r.mu.Unlock()

	switch {
	case r.abort.Load():
		o.setOutcome(r, OutcomeAborted)
		o.emit(r, events.Event{Type: events.ScanAborted})
	case failed > 0:
		o.setOutcome(r, OutcomeFailed)
		o.emit(r, events.Event{Type: events.ScanFailed, Count: failed})
	default:
		o.setOutcome(r, OutcomeCompleted)
		o.emit(r, events.Event{Type: events.ScanComplete, Count: issues})
		if issues == 0 {
			o.emit(r, events.Event{Type: events.ScanClean})
		}
	}
	if issues > 0 {
		o.emit(r, events.Event{Type: events.ScanFoundIssues, Count: issues})
	}

	if r.lockDropped.CompareAndSwap(false, true) {
		switch err := o.pool.Release(); {
		case errors.Is(err, engine.ErrPoolClosed):
			// shutdown gave up on this run and closed the pool under it
			log.Debug("scan engine closed before release")
		case err != nil:
			log.Error("release scan engine", zap.Error(err))
		}
	}

	o.finish(r)
}

func (o *Orchestrator) scanFile(r *run, handle engine.Handle, path string) {
	// classify the resolved file but report the path as walked
	target := path
	if canonical, err := Canonical(path); err == nil {
		target = canonical
	}

	verdict, n := handle.Classify(target, o.options)
	o.emit(r, events.Event{Type: events.FileScanned, Path: path})

	out := classify.Classify(verdict)

	r.mu.Lock()
	r.bytes += n
	if out.Kind == classify.Error {
		r.failed++
	} else {
		r.scanned++
	}
	r.mu.Unlock()

	o.metrics.RecordFile(out.Kind.String(), n)

	switch out.Kind {
	case classify.Clean:
		o.emit(r, events.Event{Type: events.FileClean, Path: path})

	case classify.Infected:
		r.addIssue(path, Issue{Kind: NamedThreat, Name: out.Threat})
		o.emit(r, events.Event{Type: events.FileInfected, Path: path, Threat: out.Threat})

	case classify.Heuristic:
		if out.Unmapped {
			o.logger.Warn("unrecognised heuristic name, reporting as generic",
				zap.String("name", out.Threat),
				zap.String("path", path))
			o.metrics.RecordUnmappedHeuristic()
		}
		r.addIssue(path, Issue{Kind: Heuristic, Name: out.Threat, Category: out.Category})
		o.emit(r, events.Event{
			Type:     events.FileHeuristic,
			Path:     path,
			Threat:   out.Threat,
			Category: out.Category,
		})

	case classify.Error:
		o.logger.Debug("failure when scanning", zap.String("path", path), zap.String("reason", out.Reason))
		r.addIssue(path, Issue{Kind: ScanError, Name: out.Reason})
		o.emit(r, events.Event{Type: events.FileScanFailed, Path: path, Reason: out.Reason})
	}
}

func (o *Orchestrator) setOutcome(r *run, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
}

func (o *Orchestrator) finish(r *run) {
	r.mu.Lock()
	r.finished = time.Now()
	outcome := r.outcome
	r.mu.Unlock()

	o.metrics.RecordScan(outcome.String(), r.finished.Sub(r.started))
	o.logger.Info("scan finished",
		zap.String("run_id", r.id),
		zap.Stringer("outcome", outcome))

	o.emit(r, events.Event{Type: events.ScanFinished})

	o.mu.Lock()
	if o.current == r {
		o.running = false
	}
	o.mu.Unlock()
}
