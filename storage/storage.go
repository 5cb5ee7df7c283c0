// Package storage defines the key-value store used to persist keys, identifiers and credentials.
//
// A Provider is opened once at startup and handed to every component that persists state;
// each component opens its own namespace with OpenStore. Lookups are exact-match and each
// Put is atomic per record.
package storage

import "errors"

var (
	// ErrDataNotFound is returned when a key is absent from a store.
	ErrDataNotFound = errors.New("data not found")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// Provider opens namespaced stores.
type Provider interface {
	// OpenStore opens (creating if needed) the store with the given name.
	// Names are case-insensitive.
	OpenStore(name string) (Store, error)

	// Close closes every store opened by the provider.
	Close() error
}

// Store is a single namespace of records.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error

	// Keys returns all keys in the store in ascending byte order.
	Keys() ([]string, error)

	Close() error
}
