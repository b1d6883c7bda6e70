package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// lister reads a directory and orders its entries: subdirectories first,
// then everything else, each group sorted case-insensitively for the
// configured locale. A collator is not safe for concurrent use, so every
// walk builds its own lister.
type lister struct {
	collator      *collate.Collator
	includeHidden bool
}

func newLister(locale string, includeHidden bool) *lister {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &lister{
		collator:      collate.New(tag, collate.IgnoreCase),
		includeHidden: includeHidden,
	}
}

// list returns the paths of dir's entries in walk order. Symlinks are
// grouped by what they point at; dangling ones are left out.
func (l *lister) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && len(entries) == 0 {
		return nil, err
	}

	var dirs, files []string
	for _, e := range entries {
		name := e.Name()
		if !l.includeHidden && strings.HasPrefix(name, ".") {
			continue
		}

		typ := e.Type()
		if typ&fs.ModeSymlink != 0 {
			info, statErr := os.Stat(filepath.Join(dir, name))
			if statErr != nil {
				continue
			}
			typ = info.Mode().Type()
		}

		if typ.IsDir() {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}

	l.sort(dirs)
	l.sort(files)

	paths := make([]string, 0, len(dirs)+len(files))
	for _, name := range dirs {
		paths = append(paths, filepath.Join(dir, name))
	}
	for _, name := range files {
		paths = append(paths, filepath.Join(dir, name))
	}

	// a partial read still yields the entries that were listed
	return paths, err
}

func (l *lister) sort(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		if c := l.collator.CompareString(a, b); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}
