// internal/reports/report.go
package reports

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/FairForge/vaultscan/internal/scanner"
)

// Outcome is the overall verdict of a scan report
type Outcome string

const (
	OutcomeUnknown  Outcome = "unknown"
	OutcomeFailed   Outcome = "failed"
	OutcomeClean    Outcome = "clean"
	OutcomeInfected Outcome = "infected"
	OutcomeAborted  Outcome = "aborted"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var ErrNotFound = errors.New("report not found")

// Report records one finished scan run
type Report struct {
	ID           string               `json:"id"`
	RunID        string               `json:"run_id"`
	Title        string               `json:"title"`
	Outcome      Outcome              `json:"outcome"`
	Started      time.Time            `json:"started"`
	Finished     time.Time            `json:"finished"`
	ScannedPaths []string             `json:"scanned_paths"`
	Files        []scanner.FileIssues `json:"files"`
	Scanned      int                  `json:"scanned"`
	Failed       int                  `json:"failed"`
}

// Infected returns the files with at least one detection
func (r *Report) Infected() []scanner.FileIssues {
	var out []scanner.FileIssues
	for _, f := range r.Files {
		if f.HasDetection() {
			out = append(out, f)
		}
	}
	return out
}

// Duration is how long the run took
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Store persists reports
type Store interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context) ([]*Report, error)
}

// MemoryStore keeps reports in process
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*Report)}
}

func (s *MemoryStore) Save(_ context.Context, r *Report) error {
	if r.ID == "" {
		return errors.New("report: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

// List returns reports newest first
func (s *MemoryStore) List(_ context.Context) ([]*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Report, 0, len(s.reports))
	for _, r := range s.reports {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out, nil
}

// ExportCSV writes one row per issue
func ExportCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "kind", "name", "category"}); err != nil {
		return err
	}
	for _, f := range r.Files {
		for _, issue := range f.Issues {
			category := ""
			if issue.Kind == scanner.Heuristic {
				category = issue.Category.String()
			}
			if err := cw.Write([]string{f.Path, issue.Kind.String(), issue.Name, category}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
