// Package storage is the blob store boundary. Keys are namespaced strings
// (uploads/…, invoices/….pdf, bulk-imports/…).
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object_not_found")

// ObjectInfo is the metadata returned by Head.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error

	// SignedUploadURL returns a URL a client can PUT the object to directly.
	SignedUploadURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
}
