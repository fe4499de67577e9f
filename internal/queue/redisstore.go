package queue

import (
	"context"
	"encoding/json"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore snapshots the queue into a Redis list, one JSON action per entry.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis-backed store. If url is empty or invalid,
// operations will error.
func NewRedisStore(url, key string) *RedisStore {
	if key == "" {
		key = "assistant:queue"
	}
	if url == "" {
		return &RedisStore{key: key}
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return &RedisStore{key: key}
	}
	return &RedisStore{client: redis.NewClient(opt), key: key}
}

func (r *RedisStore) ensure() error {
	if r.client == nil {
		return errors.New("redis queue store not configured")
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) ([]Action, error) {
	if err := r.ensure(); err != nil {
		return nil, err
	}
	vals, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]Action, 0, len(vals))
	for _, v := range vals {
		var a Action
		if err := json.Unmarshal([]byte(v), &a); err == nil {
			items = append(items, a)
		}
	}
	return items, nil
}

// Save replaces the list atomically.
func (r *RedisStore) Save(ctx context.Context, items []Action) error {
	if err := r.ensure(); err != nil {
		return err
	}
	values := make([]any, 0, len(items))
	for _, a := range items {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.RPush(ctx, r.key, values...)
		}
		return nil
	})
	return err
}

// Close releases the client.
func (r *RedisStore) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
