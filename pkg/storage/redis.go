package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chatcache/pkg/keys"
	"chatcache/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the key-value backend. It mirrors the embedded store's
// key layout onto a redis instance so a device-local redis (or a test
// miniredis) can hold the offline cache.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects and pings the redis instance at addr.
func OpenRedis(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Log.Error("redis_open_failed", "addr", addr, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	logger.Log.Info("redis_opened", "addr", addr, "db", db)
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *RedisStore) GetItem(ctx context.Context, key string) (v []byte, err error) {
	defer func(start time.Time) { observe("redis", "get_item", start, err) }(time.Now())
	if s.client == nil {
		return nil, ErrClosed
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return raw, nil
}

func (s *RedisStore) SetItem(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { observe("redis", "set_item", start, err) }(time.Now())
	if s.client == nil {
		return ErrClosed
	}
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *RedisStore) MultiGet(ctx context.Context, ks []string) (out map[string][]byte, err error) {
	defer func(start time.Time) { observe("redis", "multi_get", start, err) }(time.Now())
	if s.client == nil {
		return nil, ErrClosed
	}
	out = make(map[string][]byte, len(ks))
	if len(ks) == 0 {
		return out, nil
	}
	vals, err := s.client.MGet(ctx, ks...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[ks[i]] = []byte(str)
	}
	return out, nil
}

// MultiSet writes all entries in one MULTI/EXEC transaction.
func (s *RedisStore) MultiSet(ctx context.Context, items map[string][]byte) (err error) {
	defer func(start time.Time) { observe("redis", "multi_set", start, err) }(time.Now())
	if s.client == nil {
		return ErrClosed
	}
	pipe := s.client.TxPipeline()
	for k, v := range items {
		pipe.Set(ctx, k, v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.Error("redis_multiset_failed", "entries", len(items), "err", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *RedisStore) MultiRemove(ctx context.Context, ks []string) (err error) {
	defer func(start time.Time) { observe("redis", "multi_remove", start, err) }(time.Now())
	if s.client == nil {
		return ErrClosed
	}
	if len(ks) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, ks...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ListKeys(ctx context.Context, prefix string) (out []string, err error) {
	defer func(start time.Time) { observe("redis", "list_keys", start, err) }(time.Now())
	if s.client == nil {
		return nil, ErrClosed
	}
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 512).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		out = append(out, batch...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (s *RedisStore) DeleteAll(ctx context.Context, prefix string) error {
	ks, err := s.ListKeys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(ks) == 0 {
		return nil
	}
	logger.Log.Info("redis_delete_all", "prefix", prefix, "keys", len(ks))
	return s.MultiRemove(ctx, ks)
}

func (s *RedisStore) Version(ctx context.Context) (int, error) {
	v, err := s.GetItem(ctx, keys.SchemaVersion)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("invalid schema version marker %q: %w", v, err)
	}
	return n, nil
}

func (s *RedisStore) SetVersion(ctx context.Context, version int) error {
	return s.SetItem(ctx, keys.SchemaVersion, []byte(strconv.Itoa(version)))
}

// Reset removes every cache entry, the version marker included.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.DeleteAll(ctx, keys.Prefix); err != nil {
		return err
	}
	logger.Log.Info("redis_reset")
	return nil
}
