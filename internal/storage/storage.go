// Package storage provides the local temp-file store and the durable object
// store that uploaded media is written to. Local disk and S3 implementations
// are provided.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey is returned when an object key is empty or escapes the store root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// TempStore manages local files that live only for the duration of one operation.
type TempStore interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a prefix for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a local file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// Missing files are not an error.
	CleanupTemp(ctx context.Context, paths []string) error
}

// ObjectStore is durable key-addressed blob storage.
type ObjectStore interface {
	// Put writes size bytes read from data under key and returns the
	// storage path of the new object.
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (storagePath string, err error)

	// RetrievableRef returns a URL from which the object can be fetched.
	RetrievableRef(ctx context.Context, storagePath string) (url string, err error)

	// Delete removes the object. Deleting a missing object succeeds.
	Delete(ctx context.Context, storagePath string) error
}

// Storage is a TempStore paired with an ObjectStore.
type Storage interface {
	TempStore
	ObjectStore
}
