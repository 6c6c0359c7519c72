package index

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError via errors.Is.
var ErrNotFound = errors.New("index: artifact not found")

// ErrNotLoaded is returned by Search when Load has not completed successfully.
var ErrNotLoaded = errors.New("index: shard not loaded")

// NotFoundError reports a missing index or metadata artifact at load time.
type NotFoundError struct {
	// Artifact names the missing piece ("index", "metadata", "collection").
	Artifact string
	// Path is the file path or collection name that was looked up.
	Path string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("index: %s not found: %s", e.Artifact, e.Path)
}

// Is lets errors.Is(err, ErrNotFound) match any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DimensionError is returned when a query vector does not match the
// dimensionality of the index it is searched against.
type DimensionError struct {
	// Expected is the index dimensionality.
	Expected int
	// Got is the length of the supplied vector.
	Got int
}

// Error implements the error interface.
func (e *DimensionError) Error() string {
	return fmt.Sprintf("index: dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
