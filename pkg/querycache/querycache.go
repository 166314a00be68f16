// Package querycache materializes channel-list query results: an
// ordered cid list per (filters, sort) fingerprint, with reload,
// append and refresh write modes and a fixed-delay retry policy for
// the remote fetch feeding it.
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatcache/pkg/keys"
	"chatcache/pkg/logger"
	"chatcache/pkg/models"
	"chatcache/pkg/storage"
)

var (
	// ErrQueryFailed means the remote fetch behind a cache update
	// exhausted its retries; the cached state is left untouched.
	ErrQueryFailed = errors.New("query failed after retries")
	// ErrQueryInFlight rejects a second query for a fingerprint whose
	// previous query has not finished.
	ErrQueryInFlight = errors.New("query already in flight")
)

// Mode selects how a recorded result merges with the stored id list.
type Mode int

const (
	// Reload replaces the stored list outright.
	Reload Mode = iota
	// Append concatenates new ids onto the stored list. Duplicates are
	// tolerated; hydration resolves them idempotently by id.
	Append
	// Refresh replaces the stored list with a re-run of the initial
	// page; callers reset their pagination offset to the new length.
	Refresh
)

func (m Mode) String() string {
	switch m {
	case Reload:
		return "reload"
	case Append:
		return "append"
	case Refresh:
		return "refresh"
	}
	return "unknown"
}

// Fingerprint canonicalizes a (filters, sort) pair into the cache key.
// Map keys marshal in sorted order, so two semantically identical
// filter objects always collapse to the same fingerprint regardless of
// construction order.
func Fingerprint(filters models.Filters, s models.Sort) string {
	fb, err := json.Marshal(filters)
	if err != nil {
		fb = []byte("{}")
	}
	pairs := make([][2]any, 0, len(s))
	for _, f := range s {
		pairs = append(pairs, [2]any{f.Field, f.Direction})
	}
	sb, _ := json.Marshal(pairs)
	return fmt.Sprintf("filters=%s&sort=%s", fb, sb)
}

// Cache is the per-session query cache over one storage driver.
type Cache struct {
	drv storage.Driver
	ns  string
	now func() time.Time

	mu        sync.Mutex
	inflight  map[string]bool
	nextToken uint64
	// resetAt records, per fingerprint, the token of the latest
	// reload/refresh; older in-flight results are discarded on arrival.
	resetAt map[string]uint64
}

func New(drv storage.Driver, userID string) *Cache {
	return &Cache{
		drv:      drv,
		ns:       userID,
		now:      time.Now,
		inflight: map[string]bool{},
		resetAt:  map[string]uint64{},
	}
}

// BeginQuery claims the fingerprint for one in-flight query and hands
// back the request token to pass to Record. Overlapping queries for
// the same fingerprint are refused, which is the whole serialization
// discipline: no locking beyond this guard.
func (c *Cache) BeginQuery(fp string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[fp] {
		return 0, ErrQueryInFlight
	}
	c.inflight[fp] = true
	c.nextToken++
	return c.nextToken, nil
}

// EndQuery releases the fingerprint regardless of outcome.
func (c *Cache) EndQuery(fp string) {
	c.mu.Lock()
	delete(c.inflight, fp)
	c.mu.Unlock()
}

// Record merges cids into the stored list for fp according to mode. A
// result carrying a token older than the latest reload is stale and
// dropped without touching storage.
func (c *Cache) Record(ctx context.Context, fp string, cids []string, mode Mode, token uint64) error {
	c.mu.Lock()
	if token != 0 && token < c.resetAt[fp] {
		c.mu.Unlock()
		logger.Log.Info("query_result_discarded_stale", "fingerprint", fp, "token", token)
		return nil
	}
	if (mode == Reload || mode == Refresh) && token > c.resetAt[fp] {
		c.resetAt[fp] = token
	}
	c.mu.Unlock()

	key := keys.Query(c.ns, fp)
	row := models.QueryRow{ID: fp}
	if mode == Append {
		raw, err := c.drv.GetItem(ctx, key)
		if err != nil {
			return err
		}
		if raw != nil {
			if err := json.Unmarshal(raw, &row); err != nil {
				return fmt.Errorf("decode query row %s: %w", fp, err)
			}
		}
	}
	switch mode {
	case Reload, Refresh:
		row.CIDs = append([]string(nil), cids...)
	case Append:
		row.CIDs = append(row.CIDs, cids...)
	}
	row.LastSyncedAt = c.now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal query row %s: %w", fp, err)
	}
	logger.Log.Debug("query_result_recorded", "fingerprint", fp, "mode", mode.String(), "cids", len(row.CIDs))
	return c.drv.SetItem(ctx, key, b)
}

// ChannelIDs returns the stored cid list for fp, deduplicated at read
// time (append mode tolerates duplicates on write). Relational drivers
// answer via a direct fingerprint lookup instead of a document load.
func (c *Cache) ChannelIDs(ctx context.Context, fp string) ([]string, error) {
	var row models.QueryRow
	if rel, ok := c.drv.(storage.Relational); ok {
		rows, err := rel.Select(ctx,
			`SELECT cids FROM query_channels_map WHERE ns = ? AND id = ?`, c.ns, fp)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		if s, ok := rows[0]["cids"].(string); ok && s != "" {
			if err := json.Unmarshal([]byte(s), &row.CIDs); err != nil {
				return nil, fmt.Errorf("decode cids for %s: %w", fp, err)
			}
		}
	} else {
		raw, err := c.drv.GetItem(ctx, keys.Query(c.ns, fp))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, nil
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode query row %s: %w", fp, err)
		}
	}
	seen := make(map[string]bool, len(row.CIDs))
	out := make([]string, 0, len(row.CIDs))
	for _, cid := range row.CIDs {
		if seen[cid] {
			continue
		}
		seen[cid] = true
		out = append(out, cid)
	}
	return out, nil
}

// LastSyncedAt reports when the list for fp was last written.
func (c *Cache) LastSyncedAt(ctx context.Context, fp string) (*time.Time, error) {
	raw, err := c.drv.GetItem(ctx, keys.Query(c.ns, fp))
	if err != nil || raw == nil {
		return nil, err
	}
	var row models.QueryRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode query row %s: %w", fp, err)
	}
	return models.ParseTime(row.LastSyncedAt), nil
}
