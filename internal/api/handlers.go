package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/FairForge/vaultscan/internal/config"
	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/reports"
	"github.com/FairForge/vaultscan/internal/scanner"
	"github.com/FairForge/vaultscan/internal/signatures"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var errScanRunning = errors.New("a scan is already running")

type startScanRequest struct {
	Paths   []string `json:"paths"`
	Profile string   `json:"profile"`
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	body, err := readValidated(r, startScanLoader)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var req startScanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	paths := req.Paths
	if req.Profile != "" {
		profile, err := s.config.Profile(req.Profile)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, config.ErrProfileNotFound) {
				status = http.StatusBadRequest
			}
			s.respondError(w, status, err)
			return
		}
		paths = profile.Paths
	}

	if !s.scans.Start(scanner.Request{Paths: paths}) {
		s.respondError(w, http.StatusConflict, errScanRunning)
		return
	}

	s.logger.Info("scan requested", zap.Strings("paths", paths))
	s.respondJSON(w, http.StatusAccepted, s.scans.Snapshot())
}

func (s *Server) handleCurrentScan(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.scans.Snapshot())
}

func (s *Server) handleAbortScan(w http.ResponseWriter, r *http.Request) {
	snap := s.scans.Snapshot()
	if !snap.Running {
		s.respondError(w, http.StatusNotFound, errors.New("no scan is running"))
		return
	}
	s.scans.Abort()
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": snap.RunID,
		"status": "aborting",
	})
}

var errNoEventLog = errors.New("event history is not available")

// handleRunEvents returns the retained events of one run in order
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoEventLog)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "current" {
		id = s.scans.Snapshot().RunID
	}
	list := s.events.Run(id)
	if list == nil {
		list = []events.Event{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": id,
		"events": list,
		"count":  len(list),
	})
}

// handleReplayEvents returns retained events stamped in [from, to). Both
// bounds are RFC 3339; from defaults to the start of history and to to now.
func (s *Server) handleReplayEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoEventLog)
		return
	}

	from, err := parseTime(r.URL.Query().Get("from"), time.Time{})
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"), time.Now().Add(time.Nanosecond))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}

	list := s.events.Replay(from, to)
	if list == nil {
		list = []events.Event{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"count":  len(list),
	})
}

func parseTime(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	list, err := s.reports.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []*reports.Report{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"reports": list,
		"count":   len(list),
	})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.reports.Get(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, reports.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.respondError(w, status, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", reports.FormatJSON:
		s.respondJSON(w, http.StatusOK, report)
	case reports.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.ID+".csv"))
		if err := reports.ExportCSV(w, report); err != nil {
			s.logger.Error("failed to export report", zap.String("id", id), zap.Error(err))
		}
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
	}
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.config.Profiles,
	})
}

type engineStatus struct {
	engine.Stats
	Databases []signatures.Database `json:"databases"`
	Error     string                `json:"error,omitempty"`
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	status := engineStatus{Stats: s.engine.Stats()}
	dbs, err := signatures.ListDatabases(status.DatabasePath)
	if err != nil {
		status.Error = err.Error()
	}
	status.Databases = dbs
	if status.Databases == nil {
		status.Databases = []signatures.Database{}
	}
	s.respondJSON(w, http.StatusOK, status)
}

type setDatabaseRequest struct {
	Path string `json:"path"`
}

// handleSetDatabase switches the signature directory; an empty path selects
// the system databases
func (s *Server) handleSetDatabase(w http.ResponseWriter, r *http.Request) {
	body, err := readValidated(r, setDatabaseLoader)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var req setDatabaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if req.Path != "" {
		info, err := os.Stat(req.Path)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		if !info.IsDir() {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("%s is not a directory", req.Path))
			return
		}
	}

	s.engine.SetDatabasePath(req.Path)
	stats := s.engine.Stats()

	if s.watcher != nil {
		if err := s.watcher.Retarget(stats.DatabasePath); err != nil {
			s.logger.Warn("failed to watch new database directory",
				zap.String("path", stats.DatabasePath),
				zap.Error(err))
		}
	}

	s.logger.Info("database path changed", zap.String("path", stats.DatabasePath))
	s.respondJSON(w, http.StatusOK, stats)
}
