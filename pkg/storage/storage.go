package storage

import (
	"context"
	"errors"
)

// ErrNotFound is wrapped by Read and Delete when path does not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Storage is the flat key-value file store holding workspace, task, harness
// and status records. Paths are slash separated and relative to the store
// root. List returns only the files directly under prefix.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}
