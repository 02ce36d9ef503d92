package store

import (
	"context"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisBlob stores objects as Redis strings under "<prefix>:<key>", so several
// service instances can share segments.
type RedisBlob struct {
	client *redis.Client
	prefix string
}

// NewRedisBlob wraps an existing client.
func NewRedisBlob(client *redis.Client, prefix string) *RedisBlob {
	return &RedisBlob{client: client, prefix: prefix}
}

// NewRedisClient creates a client for addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}

func (b *RedisBlob) key(k string) string {
	return b.prefix + ":" + k
}

func (b *RedisBlob) Put(ctx context.Context, key string, data []byte) error {
	return b.client.Set(ctx, b.key(key), data, 0).Err()
}

func (b *RedisBlob) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// List walks the keyspace with SCAN rather than KEYS so it never blocks the server.
func (b *RedisBlob) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, b.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), b.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
