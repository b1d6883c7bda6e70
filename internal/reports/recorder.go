package reports

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/scanner"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const saveTimeout = 10 * time.Second

// Recorder builds a report from each run's events and saves it when the
// run finishes
type Recorder struct {
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*Report
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:   store,
		logger:  logger.Named("reports"),
		pending: make(map[string]*Report),
	}
}

// Handle consumes one event; subscribe it to "*"
func (rec *Recorder) Handle(e events.Event) {
	rec.mu.Lock()
	r, ok := rec.pending[e.RunID]
	if e.Type == events.ScanStarted {
		r = &Report{
			ID:           uuid.New().String(),
			RunID:        e.RunID,
			Title:        title(e.Paths),
			Outcome:      OutcomeUnknown,
			Started:      e.Timestamp,
			ScannedPaths: append([]string(nil), e.Paths...),
		}
		rec.pending[e.RunID] = r
		ok = true
	}
	if !ok {
		rec.mu.Unlock()
		return
	}

	switch e.Type {
	case events.FileClean:
		r.Scanned++
	case events.FileInfected:
		r.Scanned++
		addIssue(r, e.Path, scanner.Issue{Kind: scanner.NamedThreat, Name: e.Threat})
	case events.FileHeuristic:
		r.Scanned++
		addIssue(r, e.Path, scanner.Issue{Kind: scanner.Heuristic, Name: e.Threat, Category: e.Category})
	case events.FileScanFailed:
		r.Failed++
		addIssue(r, e.Path, scanner.Issue{Kind: scanner.ScanError, Name: e.Reason})
	case events.PathNotFound:
		addIssue(r, e.Path, scanner.Issue{Kind: scanner.NotFound})
	case events.ScanComplete:
		r.Outcome = OutcomeClean
	case events.ScanFoundIssues:
		if r.Outcome == OutcomeClean {
			r.Outcome = OutcomeInfected
		}
	case events.ScanFailed:
		r.Outcome = OutcomeFailed
	case events.ScanAborted:
		r.Outcome = OutcomeAborted
	case events.ScanFinished:
		r.Finished = e.Timestamp
		delete(rec.pending, e.RunID)
	}
	rec.mu.Unlock()

	if e.Type == events.ScanFinished {
		rec.save(r)
	}
}

func (rec *Recorder) save(r *Report) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := rec.store.Save(ctx, r); err != nil {
		rec.logger.Error("failed to save scan report",
			zap.String("run_id", r.RunID),
			zap.Error(err))
		return
	}
	rec.logger.Info("scan report saved",
		zap.String("id", r.ID),
		zap.String("outcome", string(r.Outcome)))
}

func addIssue(r *Report, path string, issue scanner.Issue) {
	if n := len(r.Files); n > 0 && r.Files[n-1].Path == path {
		r.Files[n-1].Issues = append(r.Files[n-1].Issues, issue)
		return
	}
	r.Files = append(r.Files, scanner.FileIssues{Path: path, Issues: []scanner.Issue{issue}})
}

func title(paths []string) string {
	switch len(paths) {
	case 0:
		return "Scan"
	case 1:
		return "Scan of " + paths[0]
	default:
		return "Scan of " + strings.Join(paths, ", ")
	}
}
