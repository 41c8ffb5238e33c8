// Package store is the client side of the remote key-value server that all
// processes share. It defines the Store contract consumed by the cache, a
// Redis implementation, and an in-memory Fake with fault injection.
package store

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	// ErrKeyNotFound is returned by Get and Delete when the key is absent.
	ErrKeyNotFound = errors.New("key not found")
	// ErrUnavailable wraps every connectivity failure: refused or dropped
	// connections, timeouts, closed clients and cancelled contexts.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is a networked key-value server. Implementations perform I/O on
// every call and keep no cache of their own; each call is bounded by the
// client's timeouts.
type Store interface {
	// Get returns the stored bytes for key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. It returns ErrKeyNotFound if key was absent.
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the client's connections.
	Close() error
}

// IsUnavailable reports whether err is a connectivity failure that callers
// may absorb by queueing or falling back to a local copy.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
