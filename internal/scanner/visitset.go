package scanner

import (
	"path/filepath"
)

// VisitSet records the canonical directories one walk has entered. Each
// pass owns its own set, which is what stops symlink cycles.
type VisitSet struct {
	seen map[string]struct{}
}

func NewVisitSet() *VisitSet {
	return &VisitSet{seen: make(map[string]struct{})}
}

// Visit marks dir and reports whether it was new
func (s *VisitSet) Visit(dir string) bool {
	if _, ok := s.seen[dir]; ok {
		return false
	}
	s.seen[dir] = struct{}{}
	return true
}

// Len is the number of distinct directories entered
func (s *VisitSet) Len() int {
	return len(s.seen)
}

// Clear drops every entry and the backing storage
func (s *VisitSet) Clear() {
	s.seen = make(map[string]struct{})
}

// Canonical resolves every symlink in path and makes it absolute
func Canonical(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}
