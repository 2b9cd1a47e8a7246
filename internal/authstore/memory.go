package authstore

import (
	"context"
	"path"
	"sort"
	"sync"
)

// MemoryBackend keeps hashes in process memory. State is lost on restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{hashes: make(map[string]map[string]string)}
}

func (b *MemoryBackend) HGet(_ context.Context, key, field string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.hashes[key][field]
	return v, ok, nil
}

func (b *MemoryBackend) HMGet(_ context.Context, key string, fields ...string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := b.hashes[key][f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (b *MemoryBackend) HSet(_ context.Context, key, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(key, field, value)
	return nil
}

func (b *MemoryBackend) setLocked(key, field, value string) {
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	h[field] = value
}

func (b *MemoryBackend) HKeys(_ context.Context, key string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fields := make([]string, 0, len(b.hashes[key]))
	for f := range b.hashes[key] {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields, nil
}

func (b *MemoryBackend) Apply(_ context.Context, key string, mutations []Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range mutations {
		if m.Delete {
			delete(b.hashes[key], m.Field)
			continue
		}
		b.setLocked(key, m.Field, m.Value)
	}
	if h, ok := b.hashes[key]; ok && len(h) == 0 {
		delete(b.hashes, key)
	}
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hashes, key)
	return nil
}

func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.hashes {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) HGetEach(_ context.Context, keys []string, field string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := b.hashes[k][field]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }
