package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/FairForge/vaultscan/internal/events"
	"golang.org/x/time/rate"
)

// Reporter prints scan progress to a terminal. Detections and failures are
// always printed; plain progress lines are throttled.
type Reporter struct {
	out     io.Writer
	tracker *Tracker
	limiter *rate.Limiter
	mu      sync.Mutex
}

// NewReporter prints at most one progress line per interval
func NewReporter(out io.Writer, tracker *Tracker, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		out:     out,
		tracker: tracker,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Handle consumes one event; subscribe it after the tracker
func (r *Reporter) Handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case events.FileInfected:
		fmt.Fprintf(r.out, "INFECTED  %s: %s\n", e.Path, e.Threat)
	case events.FileHeuristic:
		fmt.Fprintf(r.out, "HEURISTIC %s: %s (%s)\n", e.Path, e.Threat, e.Category)
	case events.FileScanFailed:
		fmt.Fprintf(r.out, "FAILED    %s: %s\n", e.Path, e.Reason)
	case events.PathNotFound:
		fmt.Fprintf(r.out, "NOT FOUND %s\n", e.Path)
	case events.FileScanned:
		if r.limiter.Allow() {
			fmt.Fprintln(r.out, r.line())
		}
	case events.ScanFinished:
		fmt.Fprintln(r.out, r.line())
	}
}

func (r *Reporter) line() string {
	p := r.tracker.Progress()
	if pct, ok := Percent(p); ok {
		return fmt.Sprintf("[%5.1f%%] %d/%d files", pct, p.Done, p.Total)
	}
	return fmt.Sprintf("[  ...  ] %d files", p.Done)
}
