package signatures

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Database describes one signature file in a database directory
type Database struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

var databaseExtensions = map[string]bool{
	".cvd":  true,
	".cld":  true,
	".yar":  true,
	".yara": true,
}

// ListDatabases returns the signature files under dir, sorted by path
func ListDatabases(dir string) ([]Database, error) {
	var dbs []Database
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !databaseExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		dbs = append(dbs, Database{
			Name:     rel,
			Path:     path,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(dbs, func(i, j int) bool { return dbs[i].Path < dbs[j].Path })
	return dbs, nil
}
