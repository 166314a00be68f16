// Package storage provides the uniform driver interface over the three
// interchangeable backends: an embedded object store (pebble), a
// key-value store (redis) and a relational store (sqlite). Exactly one
// driver is active per session; backends are never mixed at runtime.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrStorageUnavailable means the underlying backend cannot be
	// opened, read or written. Cache operations fail fast on it; there
	// is no silent fallback.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrClosed is returned by operations on a closed driver.
	ErrClosed = errors.New("storage driver closed")
)

// Driver is the capability set shared by all backends. Values are
// opaque byte payloads; the driver never parses them. A missing key is
// not an error: GetItem returns (nil, nil) and MultiGet simply omits
// the key from its result.
type Driver interface {
	GetItem(ctx context.Context, key string) ([]byte, error)
	SetItem(ctx context.Context, key string, value []byte) error
	MultiGet(ctx context.Context, ks []string) (map[string][]byte, error)
	// MultiSet writes all entries as one atomic batch where the backend
	// supports it; callers rely on it for mapper scratch-buffer flushes.
	MultiSet(ctx context.Context, items map[string][]byte) error
	MultiRemove(ctx context.Context, ks []string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// DeleteAll removes every entry under prefix. It is the only
	// supported way to purge a user's namespace.
	DeleteAll(ctx context.Context, prefix string) error

	// Version and SetVersion read and write the schema version marker.
	// A failure here must surface: migration refuses to proceed on it.
	Version(ctx context.Context) (int, error)
	SetVersion(ctx context.Context, version int) error
	// Reset destroys all managed data and recreates empty storage. Used
	// by destructive migration only.
	Reset(ctx context.Context) error

	Close() error
}

// Relational is an optional capability of drivers backed by a SQL
// engine: set-based row lookup without loading whole documents. The
// query cache uses it to fetch cached id lists by fingerprint directly
// in storage.
type Relational interface {
	Select(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}
