// Package cache is the top-level entry point: a per-user session that
// ties one storage driver to the mapper, the hydration engine and the
// query cache. All public chat-cache operations go through a Session.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatcache/pkg/config"
	"chatcache/pkg/hydrate"
	"chatcache/pkg/keys"
	"chatcache/pkg/logger"
	"chatcache/pkg/mapper"
	"chatcache/pkg/models"
	"chatcache/pkg/querycache"
	"chatcache/pkg/storage"
)

// ChannelFetcher produces a fresh channel page from the remote. The
// session wraps it in the retry policy; it must be safe to call more
// than once.
type ChannelFetcher func(ctx context.Context) ([]models.Channel, error)

// Session is one user's view of the cache over one storage driver.
// Data written by a session is namespaced under its user id, so
// switching accounts on the same store cannot leak channels across
// users.
type Session struct {
	drv  storage.Driver
	user string
	ns   string

	hyd *hydrate.Engine
	qc  *querycache.Cache
}

// Open selects the configured backend, runs destructive migration if
// the stored schema version is behind, and returns a ready session.
func Open(ctx context.Context, cfg *config.Config, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("open session: empty user id")
	}
	var (
		drv storage.Driver
		err error
	)
	switch cfg.Storage.Driver {
	case "pebble":
		drv, err = storage.OpenPebble(cfg.Storage.Pebble.Path)
	case "sqlite":
		drv, err = storage.OpenSQLite(cfg.Storage.SQLite.DSN)
	case "redis":
		drv, err = storage.OpenRedis(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
	default:
		return nil, fmt.Errorf("open session: unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := storage.MigrateIfNeeded(ctx, drv, storage.CurrentVersion); err != nil {
		drv.Close()
		return nil, err
	}
	logger.Log.Info("session_opened", "driver", cfg.Storage.Driver, "user", userID)
	return NewSession(drv, userID), nil
}

// NewSession wraps an already opened driver. The caller keeps
// ownership of the driver's lifecycle when constructing this way;
// Close still closes it.
func NewSession(drv storage.Driver, userID string) *Session {
	return &Session{
		drv:  drv,
		user: userID,
		ns:   keys.Namespace(userID),
		hyd:  hydrate.New(drv, userID),
		qc:   querycache.New(drv, userID),
	}
}

func (s *Session) Close() error {
	return s.drv.Close()
}

// UserID returns the session user the namespace is keyed by.
func (s *Session) UserID() string {
	return s.user
}

// StoreChannels persists a page of channels fetched for (filters,
// sort). With resync the stored id list for the query is replaced,
// otherwise the new ids are appended (further pages of the same
// query). Channel graphs themselves are always fully replaced; the
// remote copy is authoritative.
func (s *Session) StoreChannels(ctx context.Context, filters models.Filters, srt models.Sort, channels []models.Channel, resync bool) error {
	cids, err := s.storeChannelGraphs(ctx, channels)
	if err != nil {
		return err
	}
	mode := querycache.Append
	if resync {
		mode = querycache.Reload
	}
	fp := querycache.Fingerprint(filters, srt)
	logger.Log.Debug("channels_stored", "fingerprint", fp, "mode", mode.String(), "count", len(cids))
	return s.qc.Record(ctx, fp, cids, mode, 0)
}

// storeChannelGraphs flattens and persists a batch of channel graphs
// in one atomic multi-write. A channel arriving without updated_at
// keeps the previously stored value; an absent field never overwrites
// a known one.
func (s *Session) storeChannelGraphs(ctx context.Context, channels []models.Channel) ([]string, error) {
	scratch := mapper.Storables{}
	cids := make([]string, 0, len(channels))
	for i := range channels {
		c := &channels[i]
		row, err := mapper.ChannelToStorable(s.user, c, scratch)
		if err != nil {
			return nil, err
		}
		if c.UpdatedAt == nil {
			stored, ok, err := s.channelRow(ctx, c.CID)
			if err != nil {
				return nil, err
			}
			if ok {
				row.UpdatedAt = stored.UpdatedAt
			}
		}
		if err := scratch.Put(keys.Channel(s.user, c.CID), row); err != nil {
			return nil, err
		}
		cids = append(cids, c.CID)
	}
	if err := s.drv.MultiSet(ctx, map[string][]byte(scratch)); err != nil {
		return nil, err
	}
	return cids, nil
}

// QueryChannels answers a channel-list query from the cache alone: it
// resolves the stored id list for (filters, sort) and hydrates the
// page. An unknown query yields an empty slice, never an error.
func (s *Session) QueryChannels(ctx context.Context, filters models.Filters, srt models.Sort, offset, limit int) ([]models.Channel, error) {
	fp := querycache.Fingerprint(filters, srt)
	cids, err := s.qc.ChannelIDs(ctx, fp)
	if err != nil {
		return nil, err
	}
	if len(cids) == 0 {
		return []models.Channel{}, nil
	}
	channelKeys := make([]string, 0, len(cids))
	for _, cid := range cids {
		channelKeys = append(channelKeys, keys.Channel(s.user, cid))
	}
	return s.hyd.Channels(ctx, channelKeys, hydrate.Options{
		Sort:   srt,
		Offset: offset,
		Limit:  limit,
	})
}

// SyncChannels runs a remote fetch for (filters, sort) under the
// in-flight guard and the retry policy, stores the result and returns
// the hydrated channels. Overlapping syncs for the same query return
// querycache.ErrQueryInFlight; a fetch that exhausts its retries
// returns querycache.ErrQueryFailed and leaves the cached state
// untouched.
func (s *Session) SyncChannels(ctx context.Context, filters models.Filters, srt models.Sort, mode querycache.Mode, fetch ChannelFetcher) ([]models.Channel, error) {
	fp := querycache.Fingerprint(filters, srt)
	token, err := s.qc.BeginQuery(fp)
	if err != nil {
		return nil, err
	}
	defer s.qc.EndQuery(fp)

	var page []models.Channel
	err = querycache.Retry(ctx, func(ctx context.Context) error {
		var ferr error
		page, ferr = fetch(ctx)
		return ferr
	})
	if err != nil {
		logger.Log.Warn("channel_sync_failed", "fingerprint", fp, "error", err.Error())
		return nil, err
	}

	cids, err := s.storeChannelGraphs(ctx, page)
	if err != nil {
		return nil, err
	}
	if err := s.qc.Record(ctx, fp, cids, mode, token); err != nil {
		return nil, err
	}
	return page, nil
}

// QueryMessages returns one page of a channel's messages, newest
// first, starting at anchorID. A missing anchor pages from the newest
// message.
func (s *Session) QueryMessages(ctx context.Context, cid, anchorID string, pageSize int) ([]models.Message, error) {
	return s.hyd.Messages(ctx, cid, anchorID, pageSize)
}

// LastSyncedAt reports when the stored result for (filters, sort) was
// last written, or nil when the query has never been recorded.
func (s *Session) LastSyncedAt(ctx context.Context, filters models.Filters, srt models.Sort) (*time.Time, error) {
	return s.qc.LastSyncedAt(ctx, querycache.Fingerprint(filters, srt))
}

// DeleteAll purges every entry belonging to this session's user. Other
// users on the same store are untouched.
func (s *Session) DeleteAll(ctx context.Context) error {
	logger.Log.Info("session_data_purged", "user", s.user)
	return s.drv.DeleteAll(ctx, s.ns)
}

// channelRow loads the stored channel row for cid, or (zero, false)
// when the channel is not cached.
func (s *Session) channelRow(ctx context.Context, cid string) (models.ChannelRow, bool, error) {
	raw, err := s.drv.GetItem(ctx, keys.Channel(s.user, cid))
	if err != nil || raw == nil {
		return models.ChannelRow{}, false, err
	}
	var row models.ChannelRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return models.ChannelRow{}, false, fmt.Errorf("decode channel row %s: %w", cid, err)
	}
	return row, true, nil
}

func (s *Session) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.drv.SetItem(ctx, key, b)
}
