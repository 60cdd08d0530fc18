package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for keeping backup archives on durable
// storage. Implementations must be safe for concurrent use.
type Store interface {
	// Open opens a blob for sequential reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create starts a new blob. The written data becomes visible only
	// when the returned handle is closed without error; an existing
	// blob of the same name is replaced at that point.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Delete removes a blob. Deleting a blob that does not exist is
	// not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix, in
	// lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored archive.
type Blob interface {
	io.Reader
	io.Closer

	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a handle to a blob under construction.
type WritableBlob interface {
	io.Writer

	// Close finalizes the blob and publishes it under its name.
	Close() error

	// Abort discards everything written. Aborting after Close is a
	// no-op.
	Abort() error
}

// validateName rejects names that would escape a flat namespace. Blob
// names are plain identifiers, not paths.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid blob name %q", name)
	}
	return nil
}
