package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/FairForge/vaultscan/internal/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// contentHandle decides verdicts from file contents:
// "EICAR..." is a named threat, "HEUR <name>" a detection named <name>,
// "FAIL" a scan error and anything else clean.
type contentHandle struct {
	block chan struct{}
}

func (h *contentHandle) Classify(path string, _ engine.ScanOptions) (engine.Verdict, int64) {
	if h.block != nil {
		<-h.block
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Failed{Reason: err.Error()}, 0
	}

	s := string(data)
	switch {
	case strings.HasPrefix(s, "EICAR"):
		return engine.Detected{Name: "Eicar-Test-Signature"}, int64(len(data))
	case strings.HasPrefix(s, "HEUR "):
		return engine.Detected{Name: strings.TrimSpace(s[5:])}, int64(len(data))
	case strings.HasPrefix(s, "FAIL"):
		return engine.Failed{Reason: "corrupt file"}, 0
	}
	return engine.Clean{}, int64(len(data))
}

func (h *contentHandle) Close() error { return nil }

type handleBuilder struct {
	handle engine.Handle
	err    error
}

func (b handleBuilder) Build(context.Context, string) (engine.Handle, error) {
	return b.handle, b.err
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) forRun(runID string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event
	for _, e := range r.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

func count(evs []events.Event, t events.Type) int {
	n := 0
	for _, e := range evs {
		if e.Type == t {
			n++
		}
	}
	return n
}

func find(evs []events.Event, t events.Type) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func pathsOf(evs []events.Event, t events.Type) []string {
	var out []string
	for _, e := range find(evs, t) {
		out = append(out, e.Path)
	}
	return out
}

type harness struct {
	orch *Orchestrator
	pool *engine.Pool
	bus  *events.Bus
	rec  *recorder
}

func newHarness(t *testing.T, builder engine.Builder, cfg Config, logger *zap.Logger) *harness {
	t.Helper()

	if logger == nil {
		logger = zap.NewNop()
	}
	pool := engine.NewPool(builder, engine.Config{DatabasePath: "/db", Grace: time.Minute}, logger, nil)
	t.Cleanup(func() { _ = pool.Close() })

	bus := events.NewBus(0)
	rec := &recorder{}
	bus.Subscribe("*", rec.handle)

	return &harness{
		orch: New(pool, bus, cfg, logger, nil),
		pool: pool,
		bus:  bus,
		rec:  rec,
	}
}

// scan starts a run, waits for it and returns its events
func (h *harness) scan(t *testing.T, paths ...string) []events.Event {
	t.Helper()

	require.True(t, h.orch.Start(Request{Paths: paths}))
	h.wait(t)
	return h.rec.forRun(h.orch.Snapshot().RunID)
}

func (h *harness) wait(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(ctx))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
