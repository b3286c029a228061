// Package storage persists uploaded document bytes behind opaque handles.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Store is the byte-storage collaborator used by the document ledger.
type Store interface {
	// Save persists content and returns a handle for later retrieval.
	Save(ctx context.Context, content []byte, fileName, permitID string) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

var (
	ErrTooLarge    = errors.New("payload exceeds upload limit")
	ErrNotExist    = errors.New("object does not exist")
	ErrCorrupt     = errors.New("object failed integrity check")
	ErrInvalidPath = errors.New("invalid storage path")
)

// Error is returned by every Store operation that fails.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}
