package reports

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/FairForge/vaultscan/internal/classify"
	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorder(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	feed := func(rec *Recorder, runID string, evs ...events.Event) {
		for i, e := range evs {
			e.RunID = runID
			e.Timestamp = started.Add(time.Duration(i) * time.Second)
			rec.Handle(e)
		}
	}

	t.Run("saves an infected report on finish", func(t *testing.T) {
		store := NewMemoryStore()
		rec := NewRecorder(store, zap.NewNop())

		feed(rec, "run-1",
			events.Event{Type: events.ScanStarted, Paths: []string{"/home/a", "/missing"}},
			events.Event{Type: events.PathNotFound, Path: "/missing"},
			events.Event{Type: events.FileScanned, Path: "/home/a/x"},
			events.Event{Type: events.FileClean, Path: "/home/a/x"},
			events.Event{Type: events.FileScanned, Path: "/home/a/y"},
			events.Event{Type: events.FileInfected, Path: "/home/a/y", Threat: "Eicar-Test-Signature"},
			events.Event{Type: events.FileScanned, Path: "/home/a/z"},
			events.Event{Type: events.FileHeuristic, Path: "/home/a/z", Threat: "Heuristics.Broken.PE", Category: classify.BrokenExecutable},
			events.Event{Type: events.ScanComplete, Count: 2},
			events.Event{Type: events.ScanFoundIssues, Count: 2},
			events.Event{Type: events.ScanFinished},
		)

		list, err := store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)

		r := list[0]
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, "Scan of /home/a, /missing", r.Title)
		assert.Equal(t, OutcomeInfected, r.Outcome)
		assert.Equal(t, started, r.Started)
		assert.Equal(t, 10*time.Second, r.Duration())
		assert.Equal(t, 3, r.Scanned)
		assert.Zero(t, r.Failed)
		assert.Equal(t, []string{"/home/a", "/missing"}, r.ScannedPaths)
		require.Len(t, r.Files, 3)
		assert.Equal(t, scanner.NotFound, r.Files[0].Issues[0].Kind)
		assert.Len(t, r.Infected(), 2)
	})

	t.Run("records failed and aborted outcomes", func(t *testing.T) {
		store := NewMemoryStore()
		rec := NewRecorder(store, nil)

		feed(rec, "failed",
			events.Event{Type: events.ScanStarted, Paths: []string{"/a"}},
			events.Event{Type: events.FileScanned, Path: "/a/1"},
			events.Event{Type: events.FileScanFailed, Path: "/a/1", Reason: "permission denied"},
			events.Event{Type: events.ScanFailed, Count: 1},
			events.Event{Type: events.ScanFinished},
		)
		feed(rec, "aborted",
			events.Event{Type: events.ScanStarted, Paths: []string{"/b"}},
			events.Event{Type: events.ScanAborted},
			events.Event{Type: events.ScanFinished},
		)

		list, err := store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 2)

		byRun := map[string]*Report{}
		for _, r := range list {
			byRun[r.RunID] = r
		}
		assert.Equal(t, OutcomeFailed, byRun["failed"].Outcome)
		assert.Equal(t, 1, byRun["failed"].Failed)
		assert.Empty(t, byRun["failed"].Infected())
		assert.Equal(t, OutcomeAborted, byRun["aborted"].Outcome)
	})

	t.Run("clean run stays clean", func(t *testing.T) {
		store := NewMemoryStore()
		rec := NewRecorder(store, nil)

		feed(rec, "clean",
			events.Event{Type: events.ScanStarted, Paths: []string{"/a"}},
			events.Event{Type: events.ScanComplete},
			events.Event{Type: events.ScanClean},
			events.Event{Type: events.ScanFinished},
		)

		list, _ := store.List(context.Background())
		require.Len(t, list, 1)
		assert.Equal(t, OutcomeClean, list[0].Outcome)
		assert.Equal(t, "Scan of /a", list[0].Title)
	})

	t.Run("ignores events for unknown runs", func(t *testing.T) {
		store := NewMemoryStore()
		rec := NewRecorder(store, nil)

		feed(rec, "ghost",
			events.Event{Type: events.FileInfected, Path: "/x", Threat: "T"},
			events.Event{Type: events.ScanFinished},
		)

		list, _ := store.List(context.Background())
		assert.Empty(t, list)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	t.Run("requires an id", func(t *testing.T) {
		assert.Error(t, store.Save(ctx, &Report{}))
	})

	t.Run("get missing report", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lists newest first", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, store.Save(ctx, &Report{ID: "old", Started: now.Add(-time.Hour)}))
		require.NoError(t, store.Save(ctx, &Report{ID: "new", Started: now}))

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "new", list[0].ID)
		assert.Equal(t, "old", list[1].ID)

		got, err := store.Get(ctx, "old")
		require.NoError(t, err)
		got.Title = "changed"
		again, _ := store.Get(ctx, "old")
		assert.Empty(t, again.Title)
	})
}

func TestExportCSV(t *testing.T) {
	r := &Report{Files: []scanner.FileIssues{
		{Path: "/a", Issues: []scanner.Issue{{Kind: scanner.NamedThreat, Name: "Eicar-Test-Signature"}}},
		{Path: "/b, c", Issues: []scanner.Issue{{Kind: scanner.Heuristic, Name: "Heuristics.Encrypted.Zip", Category: classify.EncryptedArchive}}},
		{Path: "/gone", Issues: []scanner.Issue{{Kind: scanner.NotFound}}},
	}}

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, r))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"path,kind,name,category",
		"/a,named_threat,Eicar-Test-Signature,",
		`"/b, c",heuristic,Heuristics.Encrypted.Zip,encrypted_archive`,
		"/gone,not_found,,",
	}, lines)
}
