package dbwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) Invalidate() { c.calls.Add(1) }

func startWatcher(t *testing.T, dir string, target *countingInvalidator) *Watcher {
	t.Helper()

	w, err := New(dir, target, zap.NewNop())
	require.NoError(t, err)
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher(t *testing.T) {
	t.Run("a burst of writes invalidates once", func(t *testing.T) {
		dir := t.TempDir()
		target := &countingInvalidator{}
		startWatcher(t, dir, target)

		for i := 0; i < 5; i++ {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "daily.cld"), []byte{byte(i)}, 0o644))
		}

		require.Eventually(t, func() bool {
			return target.calls.Load() == 1
		}, 2*time.Second, 10*time.Millisecond)

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), target.calls.Load())
	})

	t.Run("ignores unrelated files", func(t *testing.T) {
		dir := t.TempDir()
		target := &countingInvalidator{}
		startWatcher(t, dir, target)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "freshclam.log"), []byte("x"), 0o644))
		time.Sleep(200 * time.Millisecond)
		assert.Zero(t, target.calls.Load())
	})

	t.Run("watches the heuristics subdirectory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "heuristics"), 0o755))
		target := &countingInvalidator{}
		w := startWatcher(t, dir, target)

		assert.Len(t, w.Dirs(), 2)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "heuristics", "pe.yar"), []byte("rule x { condition: true }"), 0o644))

		require.Eventually(t, func() bool {
			return target.calls.Load() == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("retarget moves the watch", func(t *testing.T) {
		first, second := t.TempDir(), t.TempDir()
		target := &countingInvalidator{}
		w := startWatcher(t, first, target)

		require.NoError(t, w.Retarget(second))
		assert.Equal(t, []string{second}, w.Dirs())

		require.NoError(t, os.WriteFile(filepath.Join(second, "main.cvd"), []byte("x"), 0o644))
		require.Eventually(t, func() bool {
			return target.calls.Load() == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("missing directory is an error", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "missing"), &countingInvalidator{}, nil)
		assert.Error(t, err)
	})
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant(fsnotify.Event{Name: "/db/main.CVD", Op: fsnotify.Create}))
	assert.True(t, relevant(fsnotify.Event{Name: "/db/rules.yara", Op: fsnotify.Remove}))
	assert.False(t, relevant(fsnotify.Event{Name: "/db/main.cvd", Op: fsnotify.Chmod}))
	assert.False(t, relevant(fsnotify.Event{Name: "/db/notes.txt", Op: fsnotify.Write}))
}
