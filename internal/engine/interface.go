package engine

import (
	"context"
)

// Handle is a compiled signature engine bound to one database snapshot.
// It is immutable once built; Classify may be called from several
// goroutines against the same handle.
type Handle interface {
	// Classify scans one file and reports the verdict plus the number
	// of bytes the engine read
	Classify(path string, opts ScanOptions) (Verdict, int64)
	Close() error
}

// Builder loads and compiles a database directory into a Handle.
// On failure any partially built resource is released before returning.
type Builder interface {
	Build(ctx context.Context, databasePath string) (Handle, error)
}

// Initializer is implemented by builders whose underlying library needs
// one-time process initialisation
type Initializer interface {
	Init() error
}

// Sized is implemented by handles that know how many database
// files they were compiled from
type Sized interface {
	Files() int
}

// Invalidator is implemented by pools whose engine can be marked stale
type Invalidator interface {
	Invalidate()
}
