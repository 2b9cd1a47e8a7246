// Package authstore persists per-tenant protocol credentials and key
// material in a hash-shaped key-value backend and exposes them to the
// protocol client through a transactional key store.
package authstore

import "context"

// Mutation is one field write in an atomic batch.
type Mutation struct {
	Field  string
	Value  string
	Delete bool
}

// Backend is a hash-oriented key-value store. Missing keys and fields are
// not errors: lookups report them as absent.
type Backend interface {
	HGet(ctx context.Context, key, field string) (string, bool, error)
	// HMGet returns only the fields that exist.
	HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	HKeys(ctx context.Context, key string) ([]string, error)
	// Apply writes every mutation or none of them.
	Apply(ctx context.Context, key string, mutations []Mutation) error
	Del(ctx context.Context, key string) error
	// Keys enumerates keys matching a glob pattern (* and ?).
	Keys(ctx context.Context, pattern string) ([]string, error)
	// HGetEach reads one field from many keys in a single round trip,
	// returning only the keys where the field exists.
	HGetEach(ctx context.Context, keys []string, field string) (map[string]string, error)
	Ping(ctx context.Context) error
	Close() error
}
