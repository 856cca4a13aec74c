package app

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrForbidden            = errors.New("insufficient permissions")
	ErrInvalidCredentials   = errors.New("invalid login or password")
	ErrUnauthenticated      = errors.New("not signed in")
	ErrBookNotFound         = errors.New("book not found")
	ErrReviewNotFound       = errors.New("review not found")
	ErrCollectionNotFound   = errors.New("collection not found")
	ErrImageNotFound        = errors.New("image not found")
	ErrReviewAlreadyDecided = errors.New("review already decided")
	ErrReviewExists         = errors.New("review already submitted for this book")
	ErrCollectionNameTaken  = errors.New("collection name already taken")
	ErrLoginTaken           = errors.New("login already taken")
)

// ValidationError carries per-field messages for input that was rejected
// before anything was written.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// merge folds other's fields into e; either side may be nil.
func (e *ValidationError) merge(other *ValidationError) *ValidationError {
	if other == nil {
		return e
	}
	if e == nil {
		return other
	}
	for k, v := range other.Fields {
		if _, exists := e.Fields[k]; !exists {
			e.Fields[k] = v
		}
	}
	return e
}

// orNil converts an empty *ValidationError into a nil error interface.
func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
