// Package progress turns the scan event stream into progress figures.
package progress

import (
	"sync"

	"github.com/FairForge/vaultscan/internal/events"
)

// Progress is a snapshot of the tracked run
type Progress struct {
	RunID      string `json:"run_id"`
	Running    bool   `json:"running"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	TotalKnown bool   `json:"total_known"`
}

// Tracker follows the latest run seen on the bus. The file total is
// optional: until the count arrives progress is indeterminate, not zero.
type Tracker struct {
	mu sync.Mutex
	p  Progress
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Handle consumes one event; subscribe it to "*"
func (t *Tracker) Handle(e events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Type == events.ScanStarted {
		t.p = Progress{RunID: e.RunID, Running: true}
		return
	}
	if e.RunID != t.p.RunID {
		return
	}

	switch e.Type {
	case events.FileScanned:
		t.p.Done++
	case events.FileCountDone:
		t.p.Total = e.Count
		t.p.TotalKnown = true
	case events.ScanFinished:
		t.p.Running = false
	}
}

func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

// Percent returns completion in [0, 100]. The second result is false
// while the total is unknown.
func (t *Tracker) Percent() (float64, bool) {
	return Percent(t.Progress())
}

func Percent(p Progress) (float64, bool) {
	if !p.TotalKnown {
		return 0, false
	}
	if p.Total <= 0 {
		return 100, true
	}
	pct := float64(p.Done) * 100 / float64(p.Total)
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
