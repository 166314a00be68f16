// Package mapper flattens chat entity graphs into storable rows.
//
// Every embedded user encountered anywhere in a graph is extracted into
// the scratch buffer under its user key, so a user appearing in fifty
// messages collapses to a single write. Primary rows keep id references
// only; non-primitive fields are serialized to opaque JSON text the
// storage layer never interprets.
package mapper

import (
	"encoding/json"
	"fmt"

	"chatcache/pkg/keys"
	"chatcache/pkg/models"
)

// Storables is the scratch buffer for one normalization pass. The
// caller flushes the whole buffer with a single atomic MultiSet.
type Storables map[string][]byte

// Put marshals v under key, overwriting any earlier entry for the same
// key (last write wins, which is what user dedup relies on).
func (s Storables) Put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal storable %s: %w", key, err)
	}
	s[key] = b
	return nil
}

// UserToStorable extracts a user into the scratch buffer and returns
// its row. A nil user yields an empty row and no write.
func UserToStorable(ns string, u *models.User, scratch Storables) (models.UserRow, error) {
	if u == nil {
		return models.UserRow{}, nil
	}
	row := models.UserRow{
		ID:         u.ID,
		Role:       u.Role,
		Online:     fmt.Sprintf("%t", u.Online),
		Banned:     u.Banned,
		LastActive: models.FormatTime(u.LastActive),
		CreatedAt:  models.FormatTime(u.CreatedAt),
		UpdatedAt:  models.FormatTime(u.UpdatedAt),
		ExtraData:  string(u.ExtraData),
	}
	if err := scratch.Put(keys.User(ns, u.ID), row); err != nil {
		return models.UserRow{}, err
	}
	return row, nil
}

// ReactionToStorable derives the idempotent reaction id and extracts
// the reacting user.
func ReactionToStorable(ns string, r models.Reaction, scratch Storables) (models.ReactionRow, error) {
	userID := ""
	if r.User != nil {
		userID = r.User.ID
		if _, err := UserToStorable(ns, r.User, scratch); err != nil {
			return models.ReactionRow{}, err
		}
	}
	row := models.ReactionRow{
		ID:        models.ReactionID(r.MessageID, userID, r.Type),
		MessageID: r.MessageID,
		Type:      r.Type,
		User:      userID,
		Score:     r.Score,
		CreatedAt: models.FormatTime(r.CreatedAt),
		UpdatedAt: models.FormatTime(r.UpdatedAt),
	}
	return row, nil
}

// MessageToStorable flattens one message. Absent attachments, mentions
// and reaction lists are normalized to empty sequences, never null.
func MessageToStorable(ns string, m models.Message, scratch Storables) (models.MessageRow, error) {
	senderID := ""
	if m.User != nil {
		senderID = m.User.ID
		if _, err := UserToStorable(ns, m.User, scratch); err != nil {
			return models.MessageRow{}, err
		}
	}

	mentioned := make([]string, 0, len(m.MentionedUsers))
	for i := range m.MentionedUsers {
		u := m.MentionedUsers[i]
		mentioned = append(mentioned, u.ID)
		if _, err := UserToStorable(ns, &u, scratch); err != nil {
			return models.MessageRow{}, err
		}
	}
	mentionedJSON, _ := json.Marshal(mentioned)

	attachments := m.Attachments
	if attachments == nil {
		attachments = []json.RawMessage{}
	}
	attachmentsJSON, _ := json.Marshal(attachments)

	latest, err := reactionsToStorable(ns, m.LatestReactions, scratch)
	if err != nil {
		return models.MessageRow{}, err
	}
	own, err := reactionsToStorable(ns, m.OwnReactions, scratch)
	if err != nil {
		return models.MessageRow{}, err
	}

	counts := m.ReactionCounts
	if counts == nil {
		counts = map[string]int{}
	}
	countsJSON, _ := json.Marshal(counts)

	row := models.MessageRow{
		ID:              m.ID,
		CID:             m.CID,
		Text:            m.Text,
		Type:            m.Type,
		User:            senderID,
		Attachments:     string(attachmentsJSON),
		MentionedUsers:  string(mentionedJSON),
		LatestReactions: latest,
		OwnReactions:    own,
		ReactionCounts:  string(countsJSON),
		CreatedAt:       models.FormatTime(&m.CreatedAt),
		UpdatedAt:       models.FormatTime(m.UpdatedAt),
		DeletedAt:       models.FormatTime(m.DeletedAt),
		ExtraData:       string(m.ExtraData),
	}
	return row, nil
}

func reactionsToStorable(ns string, rs []models.Reaction, scratch Storables) ([]models.ReactionRow, error) {
	out := make([]models.ReactionRow, 0, len(rs))
	for _, r := range rs {
		row, err := ReactionToStorable(ns, r, scratch)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// MemberToStorable flattens a channel member; identity is (cid, user).
func MemberToStorable(ns, cid string, m models.Member, scratch Storables) (models.MemberRow, error) {
	userID := m.UserID
	if m.User != nil {
		userID = m.User.ID
		if _, err := UserToStorable(ns, m.User, scratch); err != nil {
			return models.MemberRow{}, err
		}
	}
	return models.MemberRow{
		ID:        cid + ":" + userID,
		CID:       cid,
		User:      userID,
		Role:      m.Role,
		CreatedAt: models.FormatTime(m.CreatedAt),
		UpdatedAt: models.FormatTime(m.UpdatedAt),
	}, nil
}

// ReadToStorable flattens a read state; identity is (cid, user).
func ReadToStorable(ns, cid string, r models.Read, scratch Storables) (models.ReadRow, error) {
	userID := ""
	if r.User != nil {
		userID = r.User.ID
		if _, err := UserToStorable(ns, r.User, scratch); err != nil {
			return models.ReadRow{}, err
		}
	}
	return models.ReadRow{
		ID:             cid + ":" + userID,
		CID:            cid,
		User:           userID,
		LastRead:       models.FormatTime(&r.LastRead),
		UnreadMessages: r.UnreadMessages,
	}, nil
}

// ChannelToStorable flattens an entire channel graph: the channel row
// plus its message, member and read side entries, all staged into the
// scratch buffer. The returned row is what callers store under the
// channel key (after any merge with a previously stored row).
func ChannelToStorable(ns string, c *models.Channel, scratch Storables) (models.ChannelRow, error) {
	messages := make([]models.MessageRow, 0, len(c.Messages))
	for _, m := range c.Messages {
		row, err := MessageToStorable(ns, m, scratch)
		if err != nil {
			return models.ChannelRow{}, err
		}
		messages = append(messages, row)
	}
	if err := scratch.Put(keys.ChannelMessages(ns, c.CID), messages); err != nil {
		return models.ChannelRow{}, err
	}

	members := make([]models.MemberRow, 0, len(c.Members))
	for _, m := range c.Members {
		row, err := MemberToStorable(ns, c.CID, m, scratch)
		if err != nil {
			return models.ChannelRow{}, err
		}
		members = append(members, row)
	}
	if err := scratch.Put(keys.ChannelMembers(ns, c.CID), members); err != nil {
		return models.ChannelRow{}, err
	}

	reads := make(map[string]models.ReadRow, len(c.Reads))
	for _, r := range c.Reads {
		row, err := ReadToStorable(ns, c.CID, r, scratch)
		if err != nil {
			return models.ChannelRow{}, err
		}
		reads[row.User] = row
	}
	if err := scratch.Put(keys.ChannelReads(ns, c.CID), reads); err != nil {
		return models.ChannelRow{}, err
	}

	pinned := c.PinnedMessages
	if pinned == nil {
		pinned = []string{}
	}
	pinnedJSON, _ := json.Marshal(pinned)

	row := models.ChannelRow{
		ID:             c.ID,
		Type:           c.Type,
		CID:            c.CID,
		Members:        keys.ChannelMembers(ns, c.CID),
		Messages:       keys.ChannelMessages(ns, c.CID),
		Reads:          keys.ChannelReads(ns, c.CID),
		PinnedMessages: string(pinnedJSON),
		ExtraData:      string(c.ExtraData),
		CreatedAt:      models.FormatTime(c.CreatedAt),
		UpdatedAt:      models.FormatTime(c.UpdatedAt),
		LastMessageAt:  models.FormatTime(c.LastMessageAt),
	}
	return row, nil
}
