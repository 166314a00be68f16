package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"chatcache/pkg/keys"
	"chatcache/pkg/logger"
	"chatcache/pkg/mapper"
	"chatcache/pkg/models"
)

// InsertMessages upserts messages into their channels' stored windows,
// grouped so each touched channel is loaded and written once. A
// channel's last_message_at is bumped only when an inserted message is
// newer than the current value; it never regresses.
func (s *Session) InsertMessages(ctx context.Context, msgs []models.Message) error {
	byCID := make(map[string][]models.Message)
	order := make([]string, 0)
	for _, m := range msgs {
		if m.CID == "" {
			return fmt.Errorf("insert message %s: empty cid", m.ID)
		}
		if _, ok := byCID[m.CID]; !ok {
			order = append(order, m.CID)
		}
		byCID[m.CID] = append(byCID[m.CID], m)
	}

	for _, cid := range order {
		if err := s.insertChannelMessages(ctx, cid, byCID[cid]); err != nil {
			return err
		}
	}
	return nil
}

// InsertMessage is the single-message form of InsertMessages.
func (s *Session) InsertMessage(ctx context.Context, m models.Message) error {
	return s.InsertMessages(ctx, []models.Message{m})
}

func (s *Session) insertChannelMessages(ctx context.Context, cid string, msgs []models.Message) error {
	rows, err := s.messageRows(ctx, cid)
	if err != nil {
		return err
	}

	scratch := mapper.Storables{}
	var newest *models.Message
	for i := range msgs {
		m := msgs[i]
		row, err := mapper.MessageToStorable(s.user, m, scratch)
		if err != nil {
			return err
		}
		rows = upsertMessageRow(rows, row)
		if newest == nil || m.CreatedAt.After(newest.CreatedAt) {
			newest = &msgs[i]
		}
	}
	if err := scratch.Put(keys.ChannelMessages(s.user, cid), rows); err != nil {
		return err
	}

	chRow, ok, err := s.channelRow(ctx, cid)
	if err != nil {
		return err
	}
	if ok && newest != nil {
		stored := models.ParseTime(chRow.LastMessageAt)
		if stored == nil || newest.CreatedAt.After(*stored) {
			chRow.LastMessageAt = models.FormatTime(&newest.CreatedAt)
			if err := scratch.Put(keys.Channel(s.user, cid), chRow); err != nil {
				return err
			}
		}
	}
	return s.drv.MultiSet(ctx, map[string][]byte(scratch))
}

// UpdateMessage replaces the stored row for an existing message. An
// unknown message id is a no-op; last_message_at is left alone.
func (s *Session) UpdateMessage(ctx context.Context, m models.Message) error {
	rows, err := s.messageRows(ctx, m.CID)
	if err != nil {
		return err
	}
	idx := messageIndex(rows, m.ID)
	if idx < 0 {
		return nil
	}

	scratch := mapper.Storables{}
	row, err := mapper.MessageToStorable(s.user, m, scratch)
	if err != nil {
		return err
	}
	rows[idx] = row
	if err := scratch.Put(keys.ChannelMessages(s.user, m.CID), rows); err != nil {
		return err
	}
	return s.drv.MultiSet(ctx, map[string][]byte(scratch))
}

// AddReaction upserts a reaction on a stored message. The derived
// reaction id keys on (message, user, type), so re-applying the same
// reaction replaces the earlier row instead of duplicating it; the
// session user's reactions are mirrored into own_reactions.
func (s *Session) AddReaction(ctx context.Context, cid string, r models.Reaction) error {
	rows, err := s.messageRows(ctx, cid)
	if err != nil {
		return err
	}
	idx := messageIndex(rows, r.MessageID)
	if idx < 0 {
		return nil
	}

	scratch := mapper.Storables{}
	row, err := mapper.ReactionToStorable(s.user, r, scratch)
	if err != nil {
		return err
	}
	msg := &rows[idx]
	msg.LatestReactions = upsertReactionRow(msg.LatestReactions, row)
	if row.User == s.user {
		msg.OwnReactions = upsertReactionRow(msg.OwnReactions, row)
	}
	msg.ReactionCounts = recountReactions(msg.LatestReactions)

	if err := scratch.Put(keys.ChannelMessages(s.user, cid), rows); err != nil {
		return err
	}
	return s.drv.MultiSet(ctx, map[string][]byte(scratch))
}

// DeleteReaction removes a reaction by its (message, user, type)
// identity from both reaction lists and recomputes the counts.
func (s *Session) DeleteReaction(ctx context.Context, cid string, r models.Reaction) error {
	rows, err := s.messageRows(ctx, cid)
	if err != nil {
		return err
	}
	idx := messageIndex(rows, r.MessageID)
	if idx < 0 {
		return nil
	}
	userID := ""
	if r.User != nil {
		userID = r.User.ID
	}
	id := models.ReactionID(r.MessageID, userID, r.Type)

	msg := &rows[idx]
	msg.LatestReactions = removeReactionRow(msg.LatestReactions, id)
	msg.OwnReactions = removeReactionRow(msg.OwnReactions, id)
	msg.ReactionCounts = recountReactions(msg.LatestReactions)

	return s.putJSON(ctx, keys.ChannelMessages(s.user, cid), rows)
}

// AddMember adds or replaces a channel member; identity is the
// (channel, user) pair.
func (s *Session) AddMember(ctx context.Context, cid string, m models.Member) error {
	members, err := s.memberRows(ctx, cid)
	if err != nil {
		return err
	}
	scratch := mapper.Storables{}
	row, err := mapper.MemberToStorable(s.user, cid, m, scratch)
	if err != nil {
		return err
	}
	members = upsertMemberRow(members, row)
	if err := scratch.Put(keys.ChannelMembers(s.user, cid), members); err != nil {
		return err
	}
	return s.drv.MultiSet(ctx, map[string][]byte(scratch))
}

// UpdateMember behaves like AddMember for a member already present; a
// missing member is still inserted, which matches remote semantics
// where the update event carries the full member.
func (s *Session) UpdateMember(ctx context.Context, cid string, m models.Member) error {
	return s.AddMember(ctx, cid, m)
}

// RemoveMember drops the member and the user's read state for the
// channel. Removing an absent member is a no-op.
func (s *Session) RemoveMember(ctx context.Context, cid, userID string) error {
	members, err := s.memberRows(ctx, cid)
	if err != nil {
		return err
	}
	id := cid + ":" + userID
	kept := members[:0]
	for _, m := range members {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if err := s.putJSON(ctx, keys.ChannelMembers(s.user, cid), kept); err != nil {
		return err
	}

	reads, err := s.readRows(ctx, cid)
	if err != nil {
		return err
	}
	if _, ok := reads[userID]; !ok {
		return nil
	}
	delete(reads, userID)
	return s.putJSON(ctx, keys.ChannelReads(s.user, cid), reads)
}

// UpdateReadState updates one member's stored read state. A push for a
// user with no existing entry is dropped; read states are created only
// when the channel graph is stored.
func (s *Session) UpdateReadState(ctx context.Context, cid string, r models.Read) error {
	if r.User == nil {
		return nil
	}
	reads, err := s.readRows(ctx, cid)
	if err != nil {
		return err
	}
	if _, ok := reads[r.User.ID]; !ok {
		return nil
	}
	scratch := mapper.Storables{}
	row, err := mapper.ReadToStorable(s.user, cid, r, scratch)
	if err != nil {
		return err
	}
	reads[row.User] = row
	if err := scratch.Put(keys.ChannelReads(s.user, cid), reads); err != nil {
		return err
	}
	return s.drv.MultiSet(ctx, map[string][]byte(scratch))
}

// UpdateChannelData merges updated channel fields into the stored row
// without touching the side entries. An absent updated_at keeps the
// stored value, so partial update events cannot erase a known
// timestamp.
func (s *Session) UpdateChannelData(ctx context.Context, c models.Channel) error {
	stored, ok, err := s.channelRow(ctx, c.CID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	stored.ID = c.ID
	stored.Type = c.Type
	if c.ExtraData != nil {
		stored.ExtraData = string(c.ExtraData)
	}
	if c.PinnedMessages != nil {
		pinnedJSON, _ := json.Marshal(c.PinnedMessages)
		stored.PinnedMessages = string(pinnedJSON)
	}
	if c.CreatedAt != nil {
		stored.CreatedAt = models.FormatTime(c.CreatedAt)
	}
	if c.UpdatedAt != nil {
		stored.UpdatedAt = models.FormatTime(c.UpdatedAt)
	}
	if c.LastMessageAt != nil {
		stored.LastMessageAt = models.FormatTime(c.LastMessageAt)
	}
	return s.putJSON(ctx, keys.Channel(s.user, c.CID), stored)
}

// TruncateChannel empties the channel's stored message window and
// clears last_message_at. Members, reads and the channel row survive.
func (s *Session) TruncateChannel(ctx context.Context, cid string) error {
	if err := s.putJSON(ctx, keys.ChannelMessages(s.user, cid), []models.MessageRow{}); err != nil {
		return err
	}
	row, ok, err := s.channelRow(ctx, cid)
	if err != nil || !ok {
		return err
	}
	row.LastMessageAt = ""
	logger.Log.Debug("channel_truncated", "cid", cid)
	return s.putJSON(ctx, keys.Channel(s.user, cid), row)
}

// DeleteChannel removes the channel row and all of its side entries.
// Cached query lists may still reference the cid; hydration skips the
// missing row.
func (s *Session) DeleteChannel(ctx context.Context, cid string) error {
	logger.Log.Debug("channel_deleted", "cid", cid)
	return s.drv.MultiRemove(ctx, []string{
		keys.Channel(s.user, cid),
		keys.ChannelMessages(s.user, cid),
		keys.ChannelMembers(s.user, cid),
		keys.ChannelReads(s.user, cid),
	})
}

func (s *Session) messageRows(ctx context.Context, cid string) ([]models.MessageRow, error) {
	raw, err := s.drv.GetItem(ctx, keys.ChannelMessages(s.user, cid))
	if err != nil {
		return nil, err
	}
	var rows []models.MessageRow
	if raw != nil {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode messages for %s: %w", cid, err)
		}
	}
	return rows, nil
}

func (s *Session) memberRows(ctx context.Context, cid string) ([]models.MemberRow, error) {
	raw, err := s.drv.GetItem(ctx, keys.ChannelMembers(s.user, cid))
	if err != nil {
		return nil, err
	}
	var rows []models.MemberRow
	if raw != nil {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode members for %s: %w", cid, err)
		}
	}
	return rows, nil
}

func (s *Session) readRows(ctx context.Context, cid string) (map[string]models.ReadRow, error) {
	raw, err := s.drv.GetItem(ctx, keys.ChannelReads(s.user, cid))
	if err != nil {
		return nil, err
	}
	rows := map[string]models.ReadRow{}
	if raw != nil {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode reads for %s: %w", cid, err)
		}
	}
	return rows, nil
}

func messageIndex(rows []models.MessageRow, id string) int {
	for i, r := range rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func upsertMessageRow(rows []models.MessageRow, row models.MessageRow) []models.MessageRow {
	if i := messageIndex(rows, row.ID); i >= 0 {
		rows[i] = row
		return rows
	}
	return append(rows, row)
}

func upsertReactionRow(rows []models.ReactionRow, row models.ReactionRow) []models.ReactionRow {
	for i, r := range rows {
		if r.ID == row.ID {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

func removeReactionRow(rows []models.ReactionRow, id string) []models.ReactionRow {
	kept := rows[:0]
	for _, r := range rows {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return kept
}

func upsertMemberRow(rows []models.MemberRow, row models.MemberRow) []models.MemberRow {
	for i, r := range rows {
		if r.ID == row.ID {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

func recountReactions(rows []models.ReactionRow) string {
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Type]++
	}
	b, _ := json.Marshal(counts)
	return string(b)
}
