package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatcache/pkg/config"
	"chatcache/pkg/models"
	"chatcache/pkg/querycache"
	"chatcache/pkg/storage"
)

func newSession(t *testing.T, userID string) *Session {
	t.Helper()
	drv, err := storage.OpenPebble(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	s := NewSession(drv, userID)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func fixtureChannel(id string, lastMessageAt *time.Time) models.Channel {
	amy := &models.User{ID: "amy", Role: "user"}
	cid := "messaging:" + id
	return models.Channel{
		ID:   id,
		Type: "messaging",
		CID:  cid,
		Members: []models.Member{
			{User: amy, Role: "owner"},
		},
		Messages: []models.Message{
			{ID: id + "-m1", CID: cid, Text: "hello", User: amy, CreatedAt: *ts("2026-03-01T09:00:00Z")},
		},
		Reads: []models.Read{
			{User: amy, LastRead: *ts("2026-03-01T09:00:00Z")},
		},
		CreatedAt:     ts("2026-01-01T00:00:00Z"),
		UpdatedAt:     ts("2026-02-01T00:00:00Z"),
		LastMessageAt: lastMessageAt,
	}
}

func TestOpenRunsMigration(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Pebble.Path = filepath.Join(t.TempDir(), "db")

	s, err := Open(context.Background(), cfg, "u1")
	require.NoError(t, err)
	defer s.Close()

	v, err := s.drv.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, storage.CurrentVersion, v)
}

func TestOpenRejectsEmptyUser(t *testing.T) {
	_, err := Open(context.Background(), config.Default(), "")
	require.Error(t, err)
}

func TestStoreAndQueryChannels(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}
	srt := models.Sort{{Field: "last_message_at", Direction: -1}}

	require.NoError(t, s.StoreChannels(ctx, filters, srt, []models.Channel{
		fixtureChannel("old", ts("2026-03-01T08:00:00Z")),
		fixtureChannel("new", ts("2026-03-01T10:00:00Z")),
	}, true))

	got, err := s.QueryChannels(ctx, filters, srt, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "messaging:new", got[0].CID)
	require.Equal(t, "messaging:old", got[1].CID)
	require.Len(t, got[0].Members, 1)
	require.Equal(t, "amy", got[0].Members[0].User.ID)
}

func TestStoreChannelsResyncReplacesList(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}

	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{
		fixtureChannel("a", nil),
	}, true))
	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{
		fixtureChannel("b", nil),
	}, false))

	got, err := s.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// resync starts the list over
	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{
		fixtureChannel("c", nil),
	}, true))
	got, err = s.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "messaging:c", got[0].CID)
}

func TestStoreChannelsIsIdempotent(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}

	ch := fixtureChannel("general", ts("2026-03-01T09:00:00Z"))
	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{ch}, true))
	first, err := s.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)

	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{ch}, true))
	second, err := s.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestStoreChannelsKeepsStoredUpdatedAt(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}

	ch := fixtureChannel("general", nil)
	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{ch}, true))

	bare := fixtureChannel("general", nil)
	bare.UpdatedAt = nil
	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{bare}, true))

	got, err := s.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].UpdatedAt)
	require.Equal(t, ts("2026-02-01T00:00:00Z").UTC(), got[0].UpdatedAt.UTC())
}

func TestQueryChannelsUnknownQueryIsEmpty(t *testing.T) {
	s := newSession(t, "u1")
	got, err := s.QueryChannels(context.Background(), models.Filters{"type": "gaming"}, nil, 0, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSyncChannelsStoresFetchedPage(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}

	page, err := s.SyncChannels(ctx, filters, nil, querycache.Reload, func(ctx context.Context) ([]models.Channel, error) {
		return []models.Channel{fixtureChannel("a", nil)}, nil
	})
	require.NoError(t, err)
	require.Len(t, page, 1)

	got, err := s.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "messaging:a", got[0].CID)
}

func TestSyncChannelsFailedFetchLeavesCache(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}
	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{
		fixtureChannel("kept", nil),
	}, true))

	_, err := s.SyncChannels(ctx, filters, nil, querycache.Reload, func(ctx context.Context) ([]models.Channel, error) {
		return nil, errors.New("remote down")
	})
	require.ErrorIs(t, err, querycache.ErrQueryFailed)

	got, err := s.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "messaging:kept", got[0].CID)
}

func TestSyncChannelsRefusesOverlap(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.SyncChannels(ctx, filters, nil, querycache.Reload, func(ctx context.Context) ([]models.Channel, error) {
			close(started)
			<-release
			return nil, nil
		})
		done <- err
	}()

	<-started
	_, err := s.SyncChannels(ctx, filters, nil, querycache.Reload, func(ctx context.Context) ([]models.Channel, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, querycache.ErrQueryInFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestLastSyncedAt(t *testing.T) {
	s := newSession(t, "u1")
	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}

	at, err := s.LastSyncedAt(ctx, filters, nil)
	require.NoError(t, err)
	require.Nil(t, at)

	require.NoError(t, s.StoreChannels(ctx, filters, nil, []models.Channel{fixtureChannel("a", nil)}, true))
	at, err = s.LastSyncedAt(ctx, filters, nil)
	require.NoError(t, err)
	require.NotNil(t, at)
}

func TestDeleteAllIsScopedToSessionUser(t *testing.T) {
	drv, err := storage.OpenPebble(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer drv.Close()

	ctx := context.Background()
	filters := models.Filters{"type": "messaging"}
	s1 := NewSession(drv, "u1")
	s2 := NewSession(drv, "u2")

	require.NoError(t, s1.StoreChannels(ctx, filters, nil, []models.Channel{fixtureChannel("a", nil)}, true))
	require.NoError(t, s2.StoreChannels(ctx, filters, nil, []models.Channel{fixtureChannel("a", nil)}, true))

	require.NoError(t, s1.DeleteAll(ctx))

	got, err := s1.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Empty(t, got)
	got, err = s2.QueryChannels(ctx, filters, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
