// Package redis provides a Redis-backed [archive.KV] for settings and the
// resume pointer, so several tutor processes can share them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/didata-ai/didata/internal/archive"
)

var _ archive.KV = (*KV)(nil)

// Option configures a [KV].
type Option func(*KV)

// WithPrefix sets the key prefix. Default is "didata".
func WithPrefix(prefix string) Option {
	return func(k *KV) { k.prefix = prefix }
}

// WithTTL expires values after ttl. Zero (the default) keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(k *KV) { k.ttl = ttl }
}

// KV stores string values under "<prefix>:<key>".
type KV struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a KV on client.
//
// Example:
//
//	kv := redis.New(goredis.NewClient(&goredis.Options{Addr: "localhost:6379"}))
func New(client *redis.Client, opts ...Option) *KV {
	k := &KV{client: client, prefix: "didata"}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*KV, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis kv: ping %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

func (k *KV) key(key string) string { return k.prefix + ":" + key }

// Get implements [archive.KV].
func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := k.client.Get(ctx, k.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis kv: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements [archive.KV].
func (k *KV) Set(ctx context.Context, key, value string) error {
	if err := k.client.Set(ctx, k.key(key), value, k.ttl).Err(); err != nil {
		return fmt.Errorf("redis kv: set %s: %w", key, err)
	}
	return nil
}

// Delete implements [archive.KV].
func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, k.key(key)).Err(); err != nil {
		return fmt.Errorf("redis kv: delete %s: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable. Used by readiness checks.
func (k *KV) Ping(ctx context.Context) error { return k.client.Ping(ctx).Err() }

// Close closes the client.
func (k *KV) Close() error { return k.client.Close() }
