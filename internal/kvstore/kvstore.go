// Package kvstore provides the key-value client that stands in for XAgent's
// Redis dependency: an in-memory mock for development and a BadgerDB backend
// when state should survive restarts.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phobos.org.uk/xbridge/internal/logging"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the subset of a Redis client XAgent relies on.
type Store interface {
	// Set stores value under key. A positive ttl requests expiry; backends
	// without expiry ignore it.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes every key.
	Clear(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Options selects and configures a backend.
type Options struct {
	Backend string // memory (default) or badger
	Dir     string // badger data directory
	Logger  *logging.Logger
}

// Open returns the Store selected by opts.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendBadger:
		return NewBadger(BadgerOptions{Dir: opts.Dir, Logger: opts.Logger})
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", opts.Backend)
	}
}
