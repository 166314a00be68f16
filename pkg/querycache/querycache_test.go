package querycache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"chatcache/pkg/models"
	"chatcache/pkg/storage"
)

func openStore(t *testing.T) storage.Driver {
	t.Helper()
	srv := miniredis.RunT(t)
	drv, err := storage.OpenRedis(srv.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	return drv
}

func TestFingerprintIgnoresFilterConstructionOrder(t *testing.T) {
	s := models.Sort{{Field: "last_message_at", Direction: -1}}
	a := Fingerprint(models.Filters{"type": "messaging", "members": []string{"amy"}}, s)
	b := Fingerprint(models.Filters{"members": []string{"amy"}, "type": "messaging"}, s)
	require.Equal(t, a, b)
}

func TestFingerprintDistinguishesSort(t *testing.T) {
	f := models.Filters{"type": "messaging"}
	a := Fingerprint(f, models.Sort{{Field: "last_message_at", Direction: -1}})
	b := Fingerprint(f, models.Sort{{Field: "created_at", Direction: -1}})
	c := Fingerprint(f, models.Sort{{Field: "last_message_at", Direction: 1}})
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
}

func TestRecordReloadReplaces(t *testing.T) {
	c := New(openStore(t), "u1")
	ctx := context.Background()
	fp := Fingerprint(models.Filters{"type": "messaging"}, nil)

	require.NoError(t, c.Record(ctx, fp, []string{"messaging:a", "messaging:b"}, Reload, 0))
	require.NoError(t, c.Record(ctx, fp, []string{"messaging:c"}, Reload, 0))

	cids, err := c.ChannelIDs(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, []string{"messaging:c"}, cids)
}

func TestRecordAppendConcatenates(t *testing.T) {
	c := New(openStore(t), "u1")
	ctx := context.Background()
	fp := Fingerprint(models.Filters{"type": "messaging"}, nil)

	require.NoError(t, c.Record(ctx, fp, []string{"messaging:a", "messaging:b"}, Reload, 0))
	require.NoError(t, c.Record(ctx, fp, []string{"messaging:c", "messaging:d"}, Append, 0))

	cids, err := c.ChannelIDs(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, []string{"messaging:a", "messaging:b", "messaging:c", "messaging:d"}, cids)
}

func TestChannelIDsDeduplicates(t *testing.T) {
	c := New(openStore(t), "u1")
	ctx := context.Background()
	fp := Fingerprint(models.Filters{"type": "messaging"}, nil)

	require.NoError(t, c.Record(ctx, fp, []string{"messaging:a"}, Reload, 0))
	// overlapping page appended as-is; dedup happens on read
	require.NoError(t, c.Record(ctx, fp, []string{"messaging:a", "messaging:b"}, Append, 0))

	cids, err := c.ChannelIDs(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, []string{"messaging:a", "messaging:b"}, cids)
}

func TestChannelIDsRelationalDriver(t *testing.T) {
	drv, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })

	c := New(drv, "u1")
	ctx := context.Background()
	fp := Fingerprint(models.Filters{"type": "messaging"}, nil)
	require.NoError(t, c.Record(ctx, fp, []string{"messaging:a", "messaging:b"}, Reload, 0))

	cids, err := c.ChannelIDs(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, []string{"messaging:a", "messaging:b"}, cids)
}

func TestChannelIDsUnknownQuery(t *testing.T) {
	c := New(openStore(t), "u1")
	cids, err := c.ChannelIDs(context.Background(), "never-recorded")
	require.NoError(t, err)
	require.Nil(t, cids)
}

func TestBeginQueryRefusesOverlap(t *testing.T) {
	c := New(openStore(t), "u1")
	fp := Fingerprint(models.Filters{"type": "messaging"}, nil)

	token, err := c.BeginQuery(fp)
	require.NoError(t, err)
	require.NotZero(t, token)

	_, err = c.BeginQuery(fp)
	require.ErrorIs(t, err, ErrQueryInFlight)

	// a different query is unaffected
	_, err = c.BeginQuery(Fingerprint(models.Filters{"type": "team"}, nil))
	require.NoError(t, err)

	c.EndQuery(fp)
	_, err = c.BeginQuery(fp)
	require.NoError(t, err)
}

func TestRecordDropsStaleResult(t *testing.T) {
	c := New(openStore(t), "u1")
	ctx := context.Background()
	fp := Fingerprint(models.Filters{"type": "messaging"}, nil)

	early, err := c.BeginQuery(fp)
	require.NoError(t, err)
	c.EndQuery(fp)
	later, err := c.BeginQuery(fp)
	require.NoError(t, err)
	c.EndQuery(fp)

	require.NoError(t, c.Record(ctx, fp, []string{"messaging:new"}, Reload, later))
	// the slow first result arrives after the reload and must not win
	require.NoError(t, c.Record(ctx, fp, []string{"messaging:old"}, Reload, early))

	cids, err := c.ChannelIDs(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, []string{"messaging:new"}, cids)
}

func TestLastSyncedAtTracksWrites(t *testing.T) {
	c := New(openStore(t), "u1")
	ctx := context.Background()
	fp := Fingerprint(models.Filters{"type": "messaging"}, nil)

	at, err := c.LastSyncedAt(ctx, fp)
	require.NoError(t, err)
	require.Nil(t, at)

	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	require.NoError(t, c.Record(ctx, fp, []string{"messaging:a"}, Reload, 0))

	at, err = c.LastSyncedAt(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, at)
	require.Equal(t, fixed, at.UTC())
}

func TestRetryExhaustionWrapsError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("remote down")
	})
	require.ErrorIs(t, err, ErrQueryFailed)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, func(ctx context.Context) error {
		return errors.New("remote down")
	})
	require.Error(t, err)
}
