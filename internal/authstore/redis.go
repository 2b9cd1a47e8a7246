package authstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 200

// RedisBackend stores each tenant record as one Redis hash.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// DialRedis connects using a redis:// or rediss:// URL.
func DialRedis(url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisBackend(redis.NewClient(opts)), nil
}

func (b *RedisBackend) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := b.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *RedisBackend) HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	vals, err := b.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[fields[i]] = s
		}
	}
	return out, nil
}

func (b *RedisBackend) HSet(ctx context.Context, key, field, value string) error {
	return b.client.HSet(ctx, key, field, value).Err()
}

func (b *RedisBackend) HKeys(ctx context.Context, key string) ([]string, error) {
	return b.client.HKeys(ctx, key).Result()
}

// Apply runs the batch inside MULTI/EXEC.
func (b *RedisBackend) Apply(ctx context.Context, key string, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range mutations {
			if m.Delete {
				pipe.HDel(ctx, key, m.Field)
			} else {
				pipe.HSet(ctx, key, m.Field, m.Value)
			}
		}
		return nil
	})
	return err
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// Keys uses SCAN so large keyspaces do not block the server.
func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *RedisBackend) HGetEach(ctx context.Context, keys []string, field string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGet(ctx, k, field)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	for i, cmd := range cmds {
		val, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[keys[i]] = val
	}
	return out, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
