// Package store provides durable persistence for the chat collections.
//
// Each logical collection (sessions, challenge history, question sessions,
// each scoped per user) is one JSON blob under one string key. There are no
// transactional guarantees across keys; callers serialize their own
// read-modify-write cycles.
package store

import "context"

// KV is a string-keyed blob store.
type KV interface {
	// Get retrieves the blob stored under key, or nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous blob.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the blob under key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the store.
	Close() error
}
