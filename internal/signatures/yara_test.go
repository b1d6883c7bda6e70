package signatures

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/FairForge/vaultscan/internal/classify"
	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const eicarRule = `
rule eicar {
    meta:
        name = "Eicar-Test-Signature"
    strings:
        $a = "EICAR-STANDARD-ANTIVIRUS-TEST-FILE"
    condition:
        $a
}

rule marker {
    strings:
        $m = "MARKER"
    condition:
        $m
}
`

const brokenRule = `
rule Broken_PE {
    strings:
        $mz = "MZBROKEN"
    condition:
        $mz
}
`

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func buildDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "main.yar"), eicarRule)
	write(t, filepath.Join(dir, "heuristics", "broken.yara"), brokenRule)
	write(t, filepath.Join(dir, "README"), "not a rule file")
	return dir
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(zap.NewNop())
	require.NoError(t, b.Init())

	t.Run("compiles rule files", func(t *testing.T) {
		h, err := b.Build(context.Background(), buildDatabase(t))
		require.NoError(t, err)
		defer h.Close()

		assert.Equal(t, 2, h.(*Handle).Files())
	})

	t.Run("empty directory is a load error", func(t *testing.T) {
		_, err := b.Build(context.Background(), t.TempDir())
		var loadErr *engine.LoadError
		assert.ErrorAs(t, err, &loadErr)
	})

	t.Run("missing directory is a load error", func(t *testing.T) {
		_, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "missing"))
		var loadErr *engine.LoadError
		assert.ErrorAs(t, err, &loadErr)
	})

	t.Run("syntax errors are reported", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "bad.yar"), "rule broken { condition: }")

		_, err := b.Build(context.Background(), dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.yar")
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := b.Build(ctx, buildDatabase(t))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestHandle_Classify(t *testing.T) {
	b := NewBuilder(zap.NewNop())
	h, err := b.Build(context.Background(), buildDatabase(t))
	require.NoError(t, err)
	defer h.Close()

	files := t.TempDir()
	clean := filepath.Join(files, "clean.txt")
	eicar := filepath.Join(files, "eicar.com")
	broken := filepath.Join(files, "broken.exe")
	both := filepath.Join(files, "both.bin")
	write(t, clean, "nothing to see")
	write(t, eicar, "X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*")
	write(t, broken, "MZBROKEN")
	write(t, both, "MARKER and MZBROKEN")

	opts := engine.DefaultScanOptions()

	t.Run("clean file reports its size", func(t *testing.T) {
		v, n := h.Classify(clean, opts)
		assert.Equal(t, engine.Clean{}, v)
		assert.Equal(t, int64(len("nothing to see")), n)
	})

	t.Run("named rule uses its name meta", func(t *testing.T) {
		v, _ := h.Classify(eicar, opts)
		assert.Equal(t, engine.Detected{Name: "Eicar-Test-Signature"}, v)
	})

	t.Run("heuristic rules carry the heuristic prefix", func(t *testing.T) {
		v, _ := h.Classify(broken, opts)
		require.IsType(t, engine.Detected{}, v)

		out := classify.Classify(v)
		assert.Equal(t, classify.Heuristic, out.Kind)
		assert.Equal(t, "Heuristics.Broken.PE", out.Threat)
		assert.Equal(t, classify.BrokenExecutable, out.Category)
	})

	t.Run("heuristics can be switched off", func(t *testing.T) {
		off := opts
		off.General.Heuristics = false

		v, _ := h.Classify(broken, off)
		assert.Equal(t, engine.Clean{}, v)

		v, _ = h.Classify(both, off)
		assert.Equal(t, engine.Detected{Name: "marker"}, v)
	})

	t.Run("missing file fails", func(t *testing.T) {
		v, n := h.Classify(filepath.Join(files, "gone"), opts)
		assert.IsType(t, engine.Failed{}, v)
		assert.Zero(t, n)
	})

	t.Run("closed handle fails every scan", func(t *testing.T) {
		h2, err := b.Build(context.Background(), buildDatabase(t))
		require.NoError(t, err)
		require.NoError(t, h2.Close())
		require.NoError(t, h2.Close())

		v, _ := h2.Classify(clean, opts)
		assert.Equal(t, engine.Failed{Reason: "engine closed"}, v)
	})
}

func TestListDatabases(t *testing.T) {
	dir := buildDatabase(t)
	write(t, filepath.Join(dir, "daily.cld"), "cld")
	write(t, filepath.Join(dir, "main.cvd"), "cvd")

	dbs, err := ListDatabases(dir)
	require.NoError(t, err)

	var names []string
	for _, db := range dbs {
		names = append(names, db.Name)
	}
	assert.Equal(t, []string{"daily.cld", filepath.Join("heuristics", "broken.yara"), "main.cvd", "main.yar"}, names)

	_, err = ListDatabases(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
