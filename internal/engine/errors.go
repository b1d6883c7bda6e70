package engine

import (
	"errors"
	"fmt"
)

// ConstructionError reports a failed engine build. The pool retries on the
// next acquisition, so it only ever means "unavailable for this run".
type ConstructionError struct {
	DatabasePath string
	Err          error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("build engine from %s: %v", e.DatabasePath, e.Err)
}

func (e *ConstructionError) Unwrap() []error {
	return []error{ErrEngineUnavailable, e.Err}
}

// ErrConstruction wraps a builder failure
func ErrConstruction(databasePath string, err error) error {
	return &ConstructionError{DatabasePath: databasePath, Err: err}
}

// LoadError reports a database that could not be loaded
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load database %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// CompileError reports loaded signatures that failed to compile
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile database: %v", e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// Common errors
var (
	ErrEngineUnavailable   = errors.New("scan engine unavailable")
	ErrEngineUninitialized = errors.New("scan engine library failed to initialise")
	ErrNotAcquired         = errors.New("engine released without an outstanding lock")
	ErrPoolClosed          = errors.New("engine pool closed")
)
