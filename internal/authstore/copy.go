package authstore

import (
	"context"
	"fmt"
)

// CopyResult summarizes a Copy run.
type CopyResult struct {
	Keys    int
	Fields  int
	Skipped int
}

// Copy replicates every hash matching pattern from src into dst. Each hash
// is written with a single Apply so a partially copied tenant is never
// visible. Keys already present in dst are skipped unless overwrite is set.
func Copy(ctx context.Context, src, dst Backend, pattern string, overwrite bool) (CopyResult, error) {
	var res CopyResult

	keys, err := src.Keys(ctx, pattern)
	if err != nil {
		return res, fmt.Errorf("list source keys: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if !overwrite {
			existing, err := dst.HKeys(ctx, key)
			if err != nil {
				return res, fmt.Errorf("inspect destination %s: %w", key, err)
			}
			if len(existing) > 0 {
				res.Skipped++
				continue
			}
		}

		fields, err := src.HKeys(ctx, key)
		if err != nil {
			return res, fmt.Errorf("list fields of %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		values, err := src.HMGet(ctx, key, fields...)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", key, err)
		}

		mutations := make([]Mutation, 0, len(values))
		for _, field := range fields {
			if v, ok := values[field]; ok {
				mutations = append(mutations, Mutation{Field: field, Value: v})
			}
		}
		if overwrite {
			if err := dst.Del(ctx, key); err != nil {
				return res, fmt.Errorf("clear destination %s: %w", key, err)
			}
		}
		if err := dst.Apply(ctx, key, mutations); err != nil {
			return res, fmt.Errorf("write %s: %w", key, err)
		}
		res.Keys++
		res.Fields += len(mutations)
	}
	return res, nil
}
