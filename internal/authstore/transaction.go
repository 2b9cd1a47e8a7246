package authstore

import (
	"context"
	"sync"

	"wagateway/pkg/whatsapp/types"
)

type txKey struct{ store *Store }

// txContext is the state of one transaction tree: nesting depth, a
// read-through cache and the pending diff, both keyed by hash field.
// A nil value means known-absent in the cache and delete in the diff.
type txContext struct {
	mu    sync.Mutex
	depth int
	cache map[string]interface{}
	diff  map[string]interface{}
}

func newTxContext() *txContext {
	return &txContext{
		cache: make(map[string]interface{}),
		diff:  make(map[string]interface{}),
	}
}

func withTx(ctx context.Context, s *Store, tx *txContext) context.Context {
	return context.WithValue(ctx, txKey{s}, tx)
}

func txFrom(ctx context.Context, s *Store) *txContext {
	tx, _ := ctx.Value(txKey{s}).(*txContext)
	if tx == nil {
		return nil
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.depth == 0 {
		return nil
	}
	return tx
}

func (tx *txContext) enter() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.depth++
}

// exit drops cache and diff once the outermost call returns.
func (tx *txContext) exit() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.depth--
	if tx.depth == 0 {
		tx.cache = make(map[string]interface{})
		tx.diff = make(map[string]interface{})
	}
}

// lookup splits ids into cached values and ids still to fetch.
func (tx *txContext) lookup(category string, ids []string) (map[string]interface{}, []string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	cached := make(map[string]interface{}, len(ids))
	var missing []string
	for _, id := range ids {
		if v, ok := tx.cache[fieldName(category, id)]; ok {
			cached[id] = v
		} else {
			missing = append(missing, id)
		}
	}
	return cached, missing
}

// fill caches a fetched value unless a write landed first, and returns
// the value now cached.
func (tx *txContext) fill(field string, value interface{}) interface{} {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if v, ok := tx.cache[field]; ok {
		return v
	}
	tx.cache[field] = value
	return value
}

func (tx *txContext) stage(data types.KeyData) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for category, entries := range data {
		for id, value := range entries {
			f := fieldName(category, id)
			if isNil(value) {
				value = nil
			}
			tx.cache[f] = value
			tx.diff[f] = value
		}
	}
}

// clear marks every known field and every staged field for deletion.
func (tx *txContext) clear(known []string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.cache = make(map[string]interface{}, len(known)+len(tx.diff))
	for _, f := range known {
		tx.diff[f] = nil
	}
	for f := range tx.diff {
		tx.diff[f] = nil
		tx.cache[f] = nil
	}
}

func (tx *txContext) pending() map[string]interface{} {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make(map[string]interface{}, len(tx.diff))
	for f, v := range tx.diff {
		out[f] = v
	}
	return out
}
