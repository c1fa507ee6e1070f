package kvstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis stores every key as a plain string value under a common prefix.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = &Redis{}

func NewRedis(addr, prefix string) (*Redis, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis kvstore: empty addr")
	}
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix), nil
}

func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "voxchat:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + strings.TrimSpace(k)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis kvstore: client is nil")
	}
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis kvstore: get %q", key)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if r == nil || r.client == nil {
		return errors.New("redis kvstore: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("redis kvstore: empty key")
	}
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis kvstore: set %q", key)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return errors.New("redis kvstore: client is nil")
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrapf(err, "redis kvstore: delete %q", key)
	}
	return nil
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
