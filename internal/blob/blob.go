// Package blob defines the remote file-storage collaborator used for
// posters, thumbnails, and episode videos, and provides two
// implementations: an S3-compatible store (production) and an in-memory
// store (tests, credential-less development).
//
// Handles are opaque strings. A file handle names a single object; a
// folder handle groups files so a whole film's media can be deleted in
// one call. Callers never interpret handle contents.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned for handles that do not name a stored object.
// Any other error from a Store is a transient/backend failure.
var ErrNotFound = errors.New("blob: not found")

// Metadata describes a stored file.
type Metadata struct {
	Size     int64
	MIMEType string
}

// Created is the result of storing a new file.
type Created struct {
	Handle     string
	PublicLink string
}

// Store is the blob-store collaborator. All calls are request-scoped and
// honor ctx cancellation; implementations must surface unknown handles
// as ErrNotFound rather than swallowing them.
type Store interface {
	// CreateFolder creates an empty folder and returns its handle.
	CreateFolder(ctx context.Context, name string) (string, error)

	// CreateFile streams content into a new file under parent (a folder
	// handle, or "" for the root) and returns its handle and public link.
	CreateFile(ctx context.Context, name, mimeType string, content io.Reader, parent string) (Created, error)

	// SetPublicReadable marks the file as readable without credentials.
	SetPublicReadable(ctx context.Context, handle string) error

	// Metadata returns the size and MIME type recorded for a file.
	Metadata(ctx context.Context, handle string) (Metadata, error)

	// RangeStream opens a reader over bytes [start, end] (inclusive).
	RangeStream(ctx context.Context, handle string, start, end int64) (io.ReadCloser, error)

	// Delete removes a file, or a folder and everything in it.
	Delete(ctx context.Context, handle string) error
}
