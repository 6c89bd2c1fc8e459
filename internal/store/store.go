package store

import "context"

// KV is the coordination store contract. Keys are '/' delimited paths.
// Implementations give no transactional guarantee across calls.
type KV interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put upserts, last write wins.
	Put(ctx context.Context, key, value string) error
	// Delete removes exactly one key, deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// FindByPrefix returns every key under prefix with its value.
	FindByPrefix(ctx context.Context, prefix string) (map[string]string, error)
}

// Notifier reports changes under a prefix. The returned channel is closed
// when ctx is done.
type Notifier interface {
	Notify(ctx context.Context, prefix string) (<-chan struct{}, error)
}
