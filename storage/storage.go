// Package storage defines the persistence collaborator for session state.
//
// A Store models the browser's per-origin storage slot: a flat string
// key/value namespace. The session manager is the sole writer to its keys
// (the session record plus the transient PKCE verifier, anti-forgery state,
// and return-path entries, suffixed by provider id when one is configured).
//
// Implementations are provided in subpackages:
//   - storage/memory: mutex-guarded in-memory store for tests and embedding
//   - storage/file: JSON file store with optional encryption at rest
package storage

import "errors"

// ErrNotFound is returned by Get for a key with no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a flat string key/value store.
type Store interface {
	// Get returns the value for key, or ErrNotFound
	Get(key string) (string, error)

	// Set stores value under key, replacing any existing value
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}
