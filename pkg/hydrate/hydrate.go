// Package hydrate reassembles fully linked entity graphs out of the
// normalized rows. Hydration is a pure read: it never writes, and a
// missing referenced user degrades to an id-only stub instead of
// failing the whole read.
package hydrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"chatcache/pkg/keys"
	"chatcache/pkg/models"
	"chatcache/pkg/storage"
)

// MessagePageSize caps the message window hydrated into a channel.
const MessagePageSize = 100

// validSortFields is the allow-list for channel sorting; anything else
// in a sort option is silently ignored.
var validSortFields = map[string]bool{
	"last_message_at": true,
	"updated_at":      true,
	"created_at":      true,
}

// Options steers channel hydration.
type Options struct {
	Sort   models.Sort
	Offset int
	Limit  int
}

// Engine resolves rows back into entities for one session namespace.
type Engine struct {
	drv storage.Driver
	ns  string
}

func New(drv storage.Driver, userID string) *Engine {
	return &Engine{drv: drv, ns: userID}
}

// Channels hydrates the channels stored under channelKeys, sorts them
// by the requested fields (stable, so ties keep input order), applies
// offset/limit after sorting, and resolves the full reference closure
// with a single batched user fetch.
func (e *Engine) Channels(ctx context.Context, channelKeys []string, opts Options) ([]models.Channel, error) {
	got, err := e.drv.MultiGet(ctx, channelKeys)
	if err != nil {
		return nil, err
	}
	rows := make([]models.ChannelRow, 0, len(channelKeys))
	for _, k := range channelKeys {
		raw, ok := got[k]
		if !ok {
			continue
		}
		var r models.ChannelRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode channel row %s: %w", k, err)
		}
		rows = append(rows, r)
	}

	sortChannelRows(rows, opts.Sort)
	rows = slicePage(rows, opts.Offset, opts.Limit)
	if len(rows) == 0 {
		return []models.Channel{}, nil
	}

	// one batch for every side entry of the page
	var sideKeys []string
	for _, r := range rows {
		sideKeys = append(sideKeys, r.Messages, r.Members, r.Reads)
	}
	side, err := e.drv.MultiGet(ctx, sideKeys)
	if err != nil {
		return nil, err
	}

	type decoded struct {
		row      models.ChannelRow
		messages []models.MessageRow
		members  []models.MemberRow
		reads    map[string]models.ReadRow
	}
	all := make([]decoded, 0, len(rows))
	userIDs := newIDSet()
	for _, r := range rows {
		d := decoded{row: r}
		if raw, ok := side[r.Messages]; ok {
			if err := json.Unmarshal(raw, &d.messages); err != nil {
				return nil, fmt.Errorf("decode messages for %s: %w", r.CID, err)
			}
		}
		if raw, ok := side[r.Members]; ok {
			if err := json.Unmarshal(raw, &d.members); err != nil {
				return nil, fmt.Errorf("decode members for %s: %w", r.CID, err)
			}
		}
		if raw, ok := side[r.Reads]; ok {
			if err := json.Unmarshal(raw, &d.reads); err != nil {
				return nil, fmt.Errorf("decode reads for %s: %w", r.CID, err)
			}
		}
		// newest messages only, returned ascending so the latest is last
		d.messages = windowMessages(d.messages, MessagePageSize)
		collectMessageUsers(userIDs, d.messages)
		for _, m := range d.members {
			userIDs.add(m.User)
		}
		for _, rd := range d.reads {
			userIDs.add(rd.User)
		}
		all = append(all, d)
	}

	users, err := e.fetchUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Channel, 0, len(all))
	for _, d := range all {
		ch := rowToChannel(d.row)
		ch.Messages = make([]models.Message, 0, len(d.messages))
		for _, mr := range d.messages {
			ch.Messages = append(ch.Messages, rowToMessage(mr, users))
		}
		ch.Members = make([]models.Member, 0, len(d.members))
		for _, mr := range d.members {
			ch.Members = append(ch.Members, rowToMember(mr, users))
		}
		ch.Reads = make([]models.Read, 0, len(d.reads))
		for _, uid := range sortedKeys(d.reads) {
			ch.Reads = append(ch.Reads, rowToRead(d.reads[uid], users))
		}
		out = append(out, ch)
	}
	return out, nil
}

// Messages hydrates one page of a channel's messages, newest first,
// anchored at anchorID. An anchor that is not present in the stored
// window is treated as start of list: the page begins at the newest
// message.
func (e *Engine) Messages(ctx context.Context, cid, anchorID string, pageSize int) ([]models.Message, error) {
	raw, err := e.drv.GetItem(ctx, keys.ChannelMessages(e.ns, cid))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []models.Message{}, nil
	}
	var rows []models.MessageRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", cid, err)
	}
	if len(rows) == 0 {
		return []models.Message{}, nil
	}
	if pageSize <= 0 {
		pageSize = MessagePageSize
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rowTime(rows[i].CreatedAt).After(rowTime(rows[j].CreatedAt))
	})
	start := 0
	if anchorID != "" {
		for i, r := range rows {
			if r.ID == anchorID {
				start = i
				break
			}
		}
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[start:end]

	userIDs := newIDSet()
	collectMessageUsers(userIDs, page)
	users, err := e.fetchUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Message, 0, len(page))
	for _, r := range page {
		out = append(out, rowToMessage(r, users))
	}
	return out, nil
}

// fetchUsers is the one round trip that resolves the whole reference
// closure, however many rows referenced them.
func (e *Engine) fetchUsers(ctx context.Context, ids *idSet) (map[string]models.UserRow, error) {
	ks := make([]string, 0, len(ids.order))
	for _, id := range ids.order {
		ks = append(ks, keys.User(e.ns, id))
	}
	got, err := e.drv.MultiGet(ctx, ks)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.UserRow, len(got))
	for _, id := range ids.order {
		raw, ok := got[keys.User(e.ns, id)]
		if !ok {
			continue
		}
		var r models.UserRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode user row %s: %w", id, err)
		}
		out[id] = r
	}
	return out, nil
}

func collectMessageUsers(ids *idSet, rows []models.MessageRow) {
	for _, m := range rows {
		ids.add(m.User)
		var mentioned []string
		if m.MentionedUsers != "" {
			_ = json.Unmarshal([]byte(m.MentionedUsers), &mentioned)
		}
		for _, id := range mentioned {
			ids.add(id)
		}
		for _, r := range m.LatestReactions {
			ids.add(r.User)
		}
		for _, r := range m.OwnReactions {
			ids.add(r.User)
		}
	}
}

// windowMessages keeps the `limit` newest rows and returns them in
// ascending created_at order.
func windowMessages(rows []models.MessageRow, limit int) []models.MessageRow {
	sort.SliceStable(rows, func(i, j int) bool {
		return rowTime(rows[i].CreatedAt).After(rowTime(rows[j].CreatedAt))
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.MessageRow, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out
}

func sortChannelRows(rows []models.ChannelRow, s models.Sort) {
	fields := make([]models.SortField, 0, len(s))
	for _, f := range s {
		if validSortFields[f.Field] {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, f := range fields {
			a := rowTime(channelSortValue(rows[i], f.Field))
			b := rowTime(channelSortValue(rows[j], f.Field))
			if a.Equal(b) {
				continue
			}
			if f.Direction < 0 {
				return a.After(b)
			}
			return a.Before(b)
		}
		return false
	})
}

func channelSortValue(r models.ChannelRow, field string) string {
	switch field {
	case "last_message_at":
		return r.LastMessageAt
	case "updated_at":
		return r.UpdatedAt
	case "created_at":
		return r.CreatedAt
	}
	return ""
}

func slicePage[T any](rows []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func rowTime(s string) time.Time {
	if t := models.ParseTime(s); t != nil {
		return *t
	}
	return time.Time{}
}

func sortedKeys(m map[string]models.ReadRow) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type idSet struct {
	seen  map[string]bool
	order []string
}

func newIDSet() *idSet {
	return &idSet{seen: map[string]bool{}}
}

func (s *idSet) add(id string) {
	if id == "" || s.seen[id] {
		return
	}
	s.seen[id] = true
	s.order = append(s.order, id)
}
