// Package archive stores point-in-time snapshots of the synchronized data
// set as opaque blobs. Backends are selectable at startup; the filesystem
// driver serves development, s3 serves off-site backup, memory serves tests.
package archive

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete archive backend implementation.
type Driver string

const (
	// DriverFilesystem archives under a local directory (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 archives to an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps archives in process memory (tests).
	DriverMemory Driver = "memory"
)

// Info describes a stored snapshot blob.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the snapshot archive abstraction. Keys are immutable: Put fails
// if the key already exists, so a retried archive never overwrites an
// earlier snapshot.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ErrNotFound is returned when a snapshot key does not exist.
var ErrNotFound = errors.New("archive: snapshot not found")
