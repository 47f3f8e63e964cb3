package store

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/hyperjump/kotae/internal/vector"
)

var (
	// ErrEmptyInput is returned when a build produces no chunks or a query has no text.
	ErrEmptyInput = errors.New("empty input")
	// ErrIndexNotInitialized is returned by Search and Query before any successful Build, Add or Load.
	ErrIndexNotInitialized = errors.New("index not initialized")
	// ErrNoAdapter is returned when an operation needs to chunk or encode text and the store has no adapter.
	ErrNoAdapter = errors.New("no embedding adapter configured")
)

// DimensionMismatchError reports a vector whose width differs from the store's fixed dimensionality.
type DimensionMismatchError = vector.DimensionMismatchError

// ZeroVectorError reports a vector with zero (or non-finite) norm, which cannot be
// normalized to unit length.
type ZeroVectorError struct {
	Position int
}

func (e *ZeroVectorError) Error() string {
	return fmt.Sprintf("vector at position %d has zero norm", e.Position)
}

// IndexNotFoundError is returned by Load when a persisted artifact is missing.
type IndexNotFoundError struct {
	Path string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index not found: %s", e.Path)
}

// Unwrap lets errors.Is(err, fs.ErrNotExist) match.
func (e *IndexNotFoundError) Unwrap() error {
	return fs.ErrNotExist
}

// CorruptStateError is returned by Load when the artifacts cannot be decoded or disagree with each other.
type CorruptStateError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt index state at %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt index state at %s: %s", e.Path, e.Reason)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// ModelEncodingError wraps a failure of the embedding model.
type ModelEncodingError struct {
	Model string
	Err   error
}

func (e *ModelEncodingError) Error() string {
	return fmt.Sprintf("encode with model %s: %v", e.Model, e.Err)
}

func (e *ModelEncodingError) Unwrap() error {
	return e.Err
}

func corrupt(path, reason string, err error) error {
	return &CorruptStateError{Path: path, Reason: reason, Err: err}
}

func encodingError(model string, err error) error {
	var me *ModelEncodingError
	if errors.As(err, &me) {
		return err
	}
	return &ModelEncodingError{Model: model, Err: err}
}
