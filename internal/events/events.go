package events

import (
	"strings"
	"sync"
	"time"

	"github.com/FairForge/vaultscan/internal/classify"
)

// Type names what happened
type Type string

const (
	ScanStarted     Type = "scan.started"
	PathNotFound    Type = "path.not_found"
	FileScanned     Type = "file.scanned"
	FileClean       Type = "file.clean"
	FileInfected    Type = "file.infected"
	FileHeuristic   Type = "file.heuristic"
	FileScanFailed  Type = "file.scan_failed"
	ScanComplete    Type = "scan.complete"
	ScanClean       Type = "scan.clean"
	ScanFoundIssues Type = "scan.found_issues"
	ScanFailed      Type = "scan.failed"
	ScanAborted     Type = "scan.aborted"
	ScanFinished    Type = "scan.finished"
	FileCountDone   Type = "file.count_complete"
)

// Event is one notification from a scan run
type Event struct {
	Seq       uint64            `json:"seq"`
	Type      Type              `json:"type"`
	RunID     string            `json:"run_id"`
	Path      string            `json:"path,omitempty"`
	Threat    string            `json:"threat,omitempty"`
	Category  classify.Category `json:"category"`
	Count     int               `json:"count,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	// Paths is set on scan.started only
	Paths     []string          `json:"paths,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Emitter accepts events. Emit returns once the event has been delivered.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(event Event) { f(event) }

// Handler processes events
type Handler func(event Event)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus delivers events synchronously to subscribers in emission order.
// Concurrent emitters are serialised, so every subscriber observes the same
// total order. Handlers run on the emitting goroutine and must not emit.
type Bus struct {
	emitMu sync.Mutex

	mu        sync.RWMutex
	subs      []subscription
	nextID    uint64
	seq       uint64
	events    []Event
	maxEvents int
}

// NewBus creates a bus keeping the last maxEvents events for replay
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &Bus{
		events:    make([]Event, 0, 64),
		maxEvents: maxEvents,
	}
}

// Emit stamps the event and hands it to every matching subscriber
func (b *Bus) Emit(event Event) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.seq++
	event.Seq = b.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[1:]
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if matchesPattern(string(event.Type), s.pattern) {
			s.handler(event)
		}
	}
}

// Subscribe registers a handler for events matching pattern: an exact
// type, "*" for everything, or a prefix ending in ".*" such as "file.*".
// The returned function removes the subscription.
func (b *Bus) Subscribe(pattern string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Replay returns retained events with timestamps in [from, to)
func (b *Bus) Replay(from, to time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if !event.Timestamp.Before(from) && event.Timestamp.Before(to) {
			result = append(result, event)
		}
	}
	return result
}

// Run returns the retained events of one run in order
func (b *Bus) Run(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.RunID == runID {
			result = append(result, event)
		}
	}
	return result
}

func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" || eventType == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}
