// Package kv provides the key/value persistence primitive the style store and
// credential store are built on. Every operation is independently failable.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// Store is an asynchronous key/value primitive holding opaque blobs.
type Store interface {
	// Get returns the value under key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Update runs fn against the current value of key and writes its result
	// back as one atomic step. No other writer, in this process or another
	// sharing the backend, can commit to key between the read and the write.
	// fn may be invoked more than once when a backend retries on conflict.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// UpdateFunc receives the current value (found is false when key is absent)
// and returns the replacement. When write is false nothing is stored. An
// error aborts the update and is returned from Update unchanged.
type UpdateFunc func(current []byte, found bool) (next []byte, write bool, err error)

// ErrConflict is returned when an optimistic update kept losing to
// concurrent writers.
var ErrConflict = errors.New("kv: update conflict")

// Op names a Store operation, used for fault injection and logging.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
)
