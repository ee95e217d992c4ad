package objectstore

import (
	"context"
	stderrors "errors"
	"io"
)

// ErrNotFound is returned by Get, Download and Delete when the object does not exist.
var ErrNotFound = stderrors.New("object not found")

// ErrClaimed is returned by Claim when another reader already holds name.
var ErrClaimed = stderrors.New("object already claimed")

// MetaAccess is the metadata key carrying the accessibility tag of an upload.
const MetaAccess = "access"

// Store is the object storage contract shared by the submitter and the worker.
type Store interface {
	// EnsureBucket creates the configured bucket when it is missing. It is
	// idempotent and safe to call from concurrent submitters.
	EnsureBucket(ctx context.Context) error
	// Put uploads r under name, replacing any previous object.
	Put(ctx context.Context, name string, r io.Reader, meta map[string]string) error
	// Get returns the whole object.
	Get(ctx context.Context, name string) ([]byte, error)
	// Download streams the object into the file at path and returns the byte count.
	Download(ctx context.Context, name, path string) (int64, error)
	// Exists reports whether name is present.
	Exists(ctx context.Context, name string) (bool, error)
	// Delete removes name. Deleting a missing object returns ErrNotFound.
	Delete(ctx context.Context, name string) error
	// Claim atomically marks name as taken. Exactly one caller succeeds per
	// name; every later caller gets ErrClaimed, even after the object is gone.
	Claim(ctx context.Context, name string) error
	Close() error
}

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}
