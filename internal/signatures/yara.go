// Package signatures implements the scan engine on top of YARA rules.
package signatures

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/vaultscan/internal/classify"
	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/hillu/go-yara/v4"
	"go.uber.org/zap"
)

const (
	// HeuristicsNamespace holds rules loaded from the heuristics/ subdirectory
	HeuristicsNamespace = "Heuristics"
	DefaultNamespace    = "default"
	DefaultTimeout      = time.Minute
)

// Builder compiles every .yar and .yara file under a database directory
type Builder struct {
	Namespace string
	Timeout   time.Duration
	logger    *zap.Logger
}

func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		Namespace: DefaultNamespace,
		Timeout:   DefaultTimeout,
		logger:    logger.Named("signatures"),
	}
}

// Init checks that the YARA library can create a compiler
func (b *Builder) Init() error {
	c, err := yara.NewCompiler()
	if err != nil {
		return fmt.Errorf("yara compiler init: %w", err)
	}
	c.Destroy()
	return nil
}

// Build loads then compiles the rules. The compiler is always destroyed;
// nothing is left behind on failure.
func (b *Builder) Build(ctx context.Context, dir string) (engine.Handle, error) {
	files, err := ruleFiles(dir)
	if err != nil {
		return nil, &engine.LoadError{Path: dir, Err: err}
	}
	if len(files) == 0 {
		return nil, &engine.LoadError{Path: dir, Err: fmt.Errorf("no YARA rules found")}
	}

	compiler, err := yara.NewCompiler()
	if err != nil {
		return nil, engine.WrapError(err, "yara compiler init")
	}
	defer compiler.Destroy()

	for _, rf := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := os.Open(rf.path)
		if err != nil {
			return nil, &engine.LoadError{Path: rf.path, Err: err}
		}
		err = compiler.AddFile(f, b.namespaceFor(rf))
		f.Close()
		if err != nil {
			return nil, &engine.LoadError{Path: rf.path, Err: compilerError(compiler, err)}
		}
	}

	rules, err := compiler.GetRules()
	if err != nil {
		return nil, &engine.CompileError{Err: compilerError(compiler, err)}
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	b.logger.Info("rules compiled",
		zap.String("database", dir),
		zap.Int("files", len(files)),
		zap.Int("rules", len(rules.GetRules())))

	return &Handle{rules: rules, timeout: timeout, files: len(files)}, nil
}

func (b *Builder) namespaceFor(rf ruleFile) string {
	if rf.heuristic {
		return HeuristicsNamespace
	}
	if b.Namespace == "" {
		return DefaultNamespace
	}
	return b.Namespace
}

// Handle is a compiled rule set. Classify may run concurrently; Close
// waits for in-flight scans.
type Handle struct {
	mu      sync.RWMutex
	rules   *yara.Rules
	timeout time.Duration
	files   int
	closed  bool
}

// Classify scans one file. Named rules report their "name" meta when set,
// otherwise their identifier. Heuristic rules report "Heuristics." plus
// the identifier with underscores read as dots.
func (h *Handle) Classify(path string, opts engine.ScanOptions) (engine.Verdict, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return engine.Failed{Reason: "engine closed"}, 0
	}

	info, err := os.Stat(path)
	if err != nil {
		return engine.Failed{Reason: err.Error()}, 0
	}

	c := &matchCollector{
		heuristics: opts.General.Heuristics,
		all:        opts.General.AllMatches,
	}
	if err := h.rules.ScanFile(path, 0, h.timeout, c); err != nil {
		return engine.Failed{Reason: err.Error()}, 0
	}

	if len(c.names) == 0 {
		return engine.Clean{}, info.Size()
	}
	return engine.Detected{Name: c.names[0]}, info.Size()
}

var _ engine.Sized = (*Handle)(nil)

// Files returns how many rule files were compiled. The pool reports it in
// its stats.
func (h *Handle) Files() int {
	return h.files
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.rules.Destroy()
	return nil
}

type matchCollector struct {
	heuristics bool
	all        bool
	names      []string
}

func (c *matchCollector) RuleMatching(_ *yara.ScanContext, r *yara.Rule) (bool, error) {
	name := detectionName(r.Identifier(), r.Namespace(), r.Metas())
	if r.Namespace() == HeuristicsNamespace && !c.heuristics {
		return false, nil
	}
	c.names = append(c.names, name)

	// abort after the first match unless every match was asked for
	return !c.all, nil
}

func detectionName(identifier, namespace string, metas []yara.Meta) string {
	for _, m := range metas {
		if m.Identifier != "name" {
			continue
		}
		if s, ok := m.Value.(string); ok && s != "" {
			return s
		}
	}
	if namespace == HeuristicsNamespace {
		return classify.HeuristicPrefix + strings.ReplaceAll(identifier, "_", ".")
	}
	return identifier
}

type ruleFile struct {
	path      string
	heuristic bool
}

func ruleFiles(dir string) ([]ruleFile, error) {
	var files []ruleFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRuleFile(path) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		files = append(files, ruleFile{
			path:      path,
			heuristic: strings.EqualFold(first, "heuristics") && strings.Contains(filepath.ToSlash(rel), "/"),
		})
		return nil
	})
	return files, err
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yar", ".yara":
		return true
	}
	return false
}

func compilerError(c *yara.Compiler, err error) error {
	if len(c.Errors) == 0 {
		return err
	}
	msgs := make([]string, 0, len(c.Errors))
	for _, e := range c.Errors {
		msgs = append(msgs, fmt.Sprintf("%s:%d: %s", e.Filename, e.Line, e.Text))
	}
	return fmt.Errorf("%w: %s", err, strings.Join(msgs, "; "))
}
