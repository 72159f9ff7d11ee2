// Package storage defines the interface and implementations of the byte
// storage backends files are written to, and the registry that maps storage
// names to configured backends.
package storage

import (
	"context"
	"io"
)

// WriteOptions carry optional information about the bytes being written.
// Backends that can store it (content type, user metadata) do so; others
// ignore it.
type WriteOptions struct {
	// ContentType is the mime type of the data.
	ContentType string
	// Size is the expected number of bytes, or -1 when unknown.
	Size int64
	// Metadata is stored as object metadata by cloud backends.
	Metadata map[string]string
}

// StorageBackend reads and writes raw bytes at a path. Implementations must
// be safe for concurrent use.
type StorageBackend interface {
	// WriteStream writes all data from r to path, replacing any existing
	// data. The caller keeps ownership of r and closes it.
	WriteStream(ctx context.Context, path string, r io.Reader, opts WriteOptions) error

	// Read opens the data at path. The caller closes the returned reader.
	// A missing path yields an error matching fserr.ErrFileNotFound.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the data at path. Deleting a missing path succeeds.
	Delete(ctx context.Context, path string) error
}

// HealthChecker is implemented by backends that can verify they are
// operational.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Exister is implemented by backends that can cheaply check whether a path
// exists.
type Exister interface {
	Exists(ctx context.Context, path string) (bool, error)
}
