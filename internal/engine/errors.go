package engine

import (
	"errors"
	"fmt"

	"permitflow/internal/repo"
)

// ValidationError reports malformed input or a value outside a closed enum.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a permit, task or document id that does not resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return repo.ErrNotFound }

// ConflictError reports a uniqueness violation that survived a retry.
// It always unwraps to repo.ErrConflict.
type ConflictError struct {
	Op string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflicting concurrent write", e.Op)
}

func (e *ConflictError) Unwrap() error { return repo.ErrConflict }

// notFound converts repo.ErrNotFound into a NotFoundError for kind/id and
// passes other errors through.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}
