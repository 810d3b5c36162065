package storage

import (
	"context"
	"io"
	"time"

	"github.com/OpenNSW/pipeline/internal/storage/drivers"
)

var (
	// ErrNotFound is returned by drivers when a key does not exist.
	ErrNotFound = drivers.ErrNotFound
	// ErrInvalidKey is returned for keys escaping the storage root.
	ErrInvalidKey = drivers.ErrInvalidKey
)

// Driver defines how entity snapshots are written to and read from blob storage
type Driver interface {
	// Save writes the content under key
	Save(ctx context.Context, key string, body io.Reader, contentType string) error

	// Get returns a ReadCloser to stream the object back and its content type
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)

	// List returns the keys stored under prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object
	Delete(ctx context.Context, key string) error

	// GenerateURL returns a public-facing URL
	GenerateURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
