package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"chatcache/pkg/keys"
	"chatcache/pkg/logger"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the embedded object-store backend. Entries live as
// namespaced string keys in a single Pebble database on disk.
type PebbleStore struct {
	db   *pebble.DB
	path string
}

// OpenPebble opens (or creates) a Pebble database at the given path.
func OpenPebble(path string) (*PebbleStore, error) {
	logger.Log.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", "path", path, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	logger.Log.Info("pebble_opened", "path", path)
	return &PebbleStore{db: db, path: path}, nil
}

func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Log.Info("pebble_closed", "path", s.path)
	return nil
}

func (s *PebbleStore) GetItem(ctx context.Context, key string) (v []byte, err error) {
	defer func(start time.Time) { observe("pebble", "get_item", start, err) }(time.Now())
	if s.db == nil {
		return nil, ErrClosed
	}
	raw, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		logger.Log.Error("pebble_get_failed", "key", key, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	v = append([]byte(nil), raw...)
	if closer != nil {
		_ = closer.Close()
	}
	return v, nil
}

func (s *PebbleStore) SetItem(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { observe("pebble", "set_item", start, err) }(time.Now())
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Log.Error("pebble_set_failed", "key", key, "err", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PebbleStore) MultiGet(ctx context.Context, ks []string) (out map[string][]byte, err error) {
	defer func(start time.Time) { observe("pebble", "multi_get", start, err) }(time.Now())
	if s.db == nil {
		return nil, ErrClosed
	}
	out = make(map[string][]byte, len(ks))
	for _, k := range ks {
		raw, closer, gerr := s.db.Get([]byte(k))
		if gerr == pebble.ErrNotFound {
			continue
		}
		if gerr != nil {
			logger.Log.Error("pebble_multiget_failed", "key", k, "err", gerr)
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, gerr)
		}
		out[k] = append([]byte(nil), raw...)
		if closer != nil {
			_ = closer.Close()
		}
	}
	return out, nil
}

// MultiSet writes all entries in a single synced batch. Either the
// whole scratch buffer lands or none of it does.
func (s *PebbleStore) MultiSet(ctx context.Context, items map[string][]byte) (err error) {
	defer func(start time.Time) { observe("pebble", "multi_set", start, err) }(time.Now())
	if s.db == nil {
		return ErrClosed
	}
	b := s.db.NewBatch()
	defer b.Close()
	ks := make([]string, 0, len(items))
	for k := range items {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	for _, k := range ks {
		if err := b.Set([]byte(k), items[k], nil); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Log.Error("pebble_multiset_failed", "entries", len(items), "err", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PebbleStore) MultiRemove(ctx context.Context, ks []string) (err error) {
	defer func(start time.Time) { observe("pebble", "multi_remove", start, err) }(time.Now())
	if s.db == nil {
		return ErrClosed
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, k := range ks {
		if err := b.Delete([]byte(k), nil); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PebbleStore) ListKeys(ctx context.Context, prefix string) (out []string, err error) {
	defer func(start time.Time) { observe("pebble", "list_keys", start, err) }(time.Now())
	if s.db == nil {
		return nil, ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer iter.Close()
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

func (s *PebbleStore) DeleteAll(ctx context.Context, prefix string) error {
	ks, err := s.ListKeys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(ks) == 0 {
		return nil
	}
	logger.Log.Info("pebble_delete_all", "prefix", prefix, "keys", len(ks))
	return s.MultiRemove(ctx, ks)
}

func (s *PebbleStore) Version(ctx context.Context) (int, error) {
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

func (s *PebbleStore) SetVersion(ctx context.Context, version int) error {
	return s.SetItem(ctx, keys.SchemaVersion, []byte(strconv.Itoa(version)))
}

// Reset drops the whole database directory and reopens it empty.
func (s *PebbleStore) Reset(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.db = nil
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	db, err := pebble.Open(s.path, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.db = db
	logger.Log.Info("pebble_reset", "path", s.path)
	return nil
}
