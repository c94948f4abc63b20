// Package storage defines the mirror Backend interface and publishes the
// files of a finished sync run to it.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for mirror destinations.
type Backend interface {
	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
