package hydrate

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatcache/pkg/keys"
	"chatcache/pkg/mapper"
	"chatcache/pkg/models"
	"chatcache/pkg/storage"
)

func openStore(t *testing.T) storage.Driver {
	t.Helper()
	drv, err := storage.OpenPebble(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	return drv
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func storeChannel(t *testing.T, drv storage.Driver, ns string, c *models.Channel) {
	t.Helper()
	scratch := mapper.Storables{}
	row, err := mapper.ChannelToStorable(ns, c, scratch)
	require.NoError(t, err)
	require.NoError(t, scratch.Put(keys.Channel(ns, c.CID), row))
	require.NoError(t, drv.MultiSet(context.Background(), map[string][]byte(scratch)))
}

func testChannel(cid string, lastMessageAt *time.Time) *models.Channel {
	amy := &models.User{ID: "amy", Role: "user", Online: true}
	return &models.Channel{
		ID:   cid,
		Type: "messaging",
		CID:  "messaging:" + cid,
		Members: []models.Member{
			{User: amy, Role: "owner"},
		},
		Messages: []models.Message{
			{ID: cid + "-m1", CID: "messaging:" + cid, Text: "hello", User: amy, CreatedAt: *ts("2026-03-01T09:00:00Z")},
		},
		Reads: []models.Read{
			{User: amy, LastRead: *ts("2026-03-01T09:00:00Z")},
		},
		CreatedAt:     ts("2026-01-01T00:00:00Z"),
		LastMessageAt: lastMessageAt,
	}
}

func TestChannelsHydratesFullGraph(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	storeChannel(t, drv, ns, testChannel("general", ts("2026-03-01T09:00:00Z")))

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), []string{keys.Channel(ns, "messaging:general")}, Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	ch := got[0]
	require.Equal(t, "messaging:general", ch.CID)
	require.Len(t, ch.Members, 1)
	require.NotNil(t, ch.Members[0].User)
	require.Equal(t, "amy", ch.Members[0].User.ID)
	require.True(t, ch.Members[0].User.Online)
	require.Len(t, ch.Messages, 1)
	require.Equal(t, "hello", ch.Messages[0].Text)
	require.Equal(t, "amy", ch.Messages[0].User.ID)
	require.Len(t, ch.Reads, 1)
	require.Equal(t, ts("2026-03-01T09:00:00Z").UTC(), ch.LastMessageAt.UTC())
}

func TestChannelsSkipsMissingRows(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	storeChannel(t, drv, ns, testChannel("general", nil))

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), []string{
		keys.Channel(ns, "messaging:vanished"),
		keys.Channel(ns, "messaging:general"),
	}, Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "messaging:general", got[0].CID)
}

func TestChannelsMissingUserBecomesStub(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	ch := testChannel("general", nil)
	storeChannel(t, drv, ns, ch)
	// drop the user row out from under the stored graph
	require.NoError(t, drv.MultiRemove(context.Background(), []string{keys.User(ns, "amy")}))

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), []string{keys.Channel(ns, ch.CID)}, Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	u := got[0].Messages[0].User
	require.NotNil(t, u)
	require.Equal(t, "amy", u.ID)
	require.False(t, u.Online)
	require.Empty(t, u.Role)
}

func TestChannelsSortByLastMessageAtDesc(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	storeChannel(t, drv, ns, testChannel("old", ts("2026-03-01T08:00:00Z")))
	storeChannel(t, drv, ns, testChannel("new", ts("2026-03-01T10:00:00Z")))
	storeChannel(t, drv, ns, testChannel("mid", ts("2026-03-01T09:00:00Z")))

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), []string{
		keys.Channel(ns, "messaging:old"),
		keys.Channel(ns, "messaging:new"),
		keys.Channel(ns, "messaging:mid"),
	}, Options{Sort: models.Sort{{Field: "last_message_at", Direction: -1}}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "messaging:new", got[0].CID)
	require.Equal(t, "messaging:mid", got[1].CID)
	require.Equal(t, "messaging:old", got[2].CID)
}

func TestChannelsSortTiesKeepInputOrder(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	same := ts("2026-03-01T09:00:00Z")
	storeChannel(t, drv, ns, testChannel("first", same))
	storeChannel(t, drv, ns, testChannel("second", same))
	storeChannel(t, drv, ns, testChannel("third", same))

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), []string{
		keys.Channel(ns, "messaging:first"),
		keys.Channel(ns, "messaging:second"),
		keys.Channel(ns, "messaging:third"),
	}, Options{Sort: models.Sort{{Field: "last_message_at", Direction: -1}}})
	require.NoError(t, err)
	require.Equal(t, "messaging:first", got[0].CID)
	require.Equal(t, "messaging:second", got[1].CID)
	require.Equal(t, "messaging:third", got[2].CID)
}

func TestChannelsUnknownSortFieldIsIgnored(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	storeChannel(t, drv, ns, testChannel("a", ts("2026-03-01T08:00:00Z")))
	storeChannel(t, drv, ns, testChannel("b", ts("2026-03-01T10:00:00Z")))

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), []string{
		keys.Channel(ns, "messaging:a"),
		keys.Channel(ns, "messaging:b"),
	}, Options{Sort: models.Sort{{Field: "member_count", Direction: -1}}})
	require.NoError(t, err)
	// input order preserved when no recognized sort field remains
	require.Equal(t, "messaging:a", got[0].CID)
	require.Equal(t, "messaging:b", got[1].CID)
}

func TestChannelsPaginationAfterSort(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	for i := 0; i < 5; i++ {
		at := ts(fmt.Sprintf("2026-03-01T0%d:00:00Z", i))
		storeChannel(t, drv, ns, testChannel(fmt.Sprintf("c%d", i), at))
	}
	var ks []string
	for i := 0; i < 5; i++ {
		ks = append(ks, keys.Channel(ns, fmt.Sprintf("messaging:c%d", i)))
	}

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), ks, Options{
		Sort:   models.Sort{{Field: "last_message_at", Direction: -1}},
		Offset: 1,
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "messaging:c3", got[0].CID)
	require.Equal(t, "messaging:c2", got[1].CID)
}

func TestChannelsMessageWindowIsNewestAscending(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	amy := &models.User{ID: "amy"}
	ch := &models.Channel{
		ID: "busy", Type: "messaging", CID: "messaging:busy",
	}
	for i := 0; i < MessagePageSize+20; i++ {
		at := time.Date(2026, 3, 1, 0, 0, i, 0, time.UTC)
		ch.Messages = append(ch.Messages, models.Message{
			ID: fmt.Sprintf("m%03d", i), CID: ch.CID, User: amy, CreatedAt: at,
		})
	}
	storeChannel(t, drv, ns, ch)

	eng := New(drv, ns)
	got, err := eng.Channels(context.Background(), []string{keys.Channel(ns, ch.CID)}, Options{})
	require.NoError(t, err)
	require.Len(t, got[0].Messages, MessagePageSize)
	msgs := got[0].Messages
	// oldest rows fell out of the window, newest is last
	require.Equal(t, "m020", msgs[0].ID)
	require.Equal(t, fmt.Sprintf("m%03d", MessagePageSize+19), msgs[len(msgs)-1].ID)
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestMessagesPageNewestFirst(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	amy := &models.User{ID: "amy"}
	ch := &models.Channel{ID: "busy", Type: "messaging", CID: "messaging:busy"}
	for i := 0; i < 10; i++ {
		at := time.Date(2026, 3, 1, 0, 0, i, 0, time.UTC)
		ch.Messages = append(ch.Messages, models.Message{
			ID: fmt.Sprintf("m%d", i), CID: ch.CID, User: amy, CreatedAt: at,
		})
	}
	storeChannel(t, drv, ns, ch)

	eng := New(drv, ns)
	got, err := eng.Messages(context.Background(), ch.CID, "", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, "m9", got[0].ID)
	require.Equal(t, "m6", got[3].ID)

	// next page anchored at the last returned message
	got, err = eng.Messages(context.Background(), ch.CID, "m6", 4)
	require.NoError(t, err)
	require.Equal(t, "m6", got[0].ID)
	require.Equal(t, "m3", got[3].ID)
}

func TestMessagesUnknownAnchorPagesFromNewest(t *testing.T) {
	drv := openStore(t)
	ns := "u1"
	amy := &models.User{ID: "amy"}
	ch := &models.Channel{ID: "busy", Type: "messaging", CID: "messaging:busy"}
	for i := 0; i < 5; i++ {
		at := time.Date(2026, 3, 1, 0, 0, i, 0, time.UTC)
		ch.Messages = append(ch.Messages, models.Message{
			ID: fmt.Sprintf("m%d", i), CID: ch.CID, User: amy, CreatedAt: at,
		})
	}
	storeChannel(t, drv, ns, ch)

	eng := New(drv, ns)
	got, err := eng.Messages(context.Background(), ch.CID, "gone", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "m4", got[0].ID)
}

func TestMessagesUnknownChannelIsEmpty(t *testing.T) {
	drv := openStore(t)
	eng := New(drv, "u1")
	got, err := eng.Messages(context.Background(), "messaging:nope", "", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}
