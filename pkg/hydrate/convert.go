package hydrate

import (
	"encoding/json"

	"chatcache/pkg/models"
)

// userFor resolves an id against the fetched user rows, degrading to a
// stub when the row vanished out-of-band.
func userFor(id string, users map[string]models.UserRow) *models.User {
	if id == "" {
		return nil
	}
	r, ok := users[id]
	if !ok {
		return models.StubUser(id)
	}
	u := rowToUser(r)
	return &u
}

func rowToUser(r models.UserRow) models.User {
	return models.User{
		ID:         r.ID,
		Role:       r.Role,
		Online:     r.Online == "true",
		Banned:     r.Banned,
		LastActive: models.ParseTime(r.LastActive),
		CreatedAt:  models.ParseTime(r.CreatedAt),
		UpdatedAt:  models.ParseTime(r.UpdatedAt),
		ExtraData:  rawJSON(r.ExtraData),
	}
}

func rowToChannel(r models.ChannelRow) models.Channel {
	var pinned []string
	if r.PinnedMessages != "" {
		_ = json.Unmarshal([]byte(r.PinnedMessages), &pinned)
	}
	return models.Channel{
		ID:             r.ID,
		Type:           r.Type,
		CID:            r.CID,
		PinnedMessages: pinned,
		ExtraData:      rawJSON(r.ExtraData),
		CreatedAt:      models.ParseTime(r.CreatedAt),
		UpdatedAt:      models.ParseTime(r.UpdatedAt),
		LastMessageAt:  models.ParseTime(r.LastMessageAt),
	}
}

func rowToMessage(r models.MessageRow, users map[string]models.UserRow) models.Message {
	var attachments []json.RawMessage
	if r.Attachments != "" {
		_ = json.Unmarshal([]byte(r.Attachments), &attachments)
	}
	if attachments == nil {
		attachments = []json.RawMessage{}
	}

	var mentionedIDs []string
	if r.MentionedUsers != "" {
		_ = json.Unmarshal([]byte(r.MentionedUsers), &mentionedIDs)
	}
	mentioned := make([]models.User, 0, len(mentionedIDs))
	for _, id := range mentionedIDs {
		if u := userFor(id, users); u != nil {
			mentioned = append(mentioned, *u)
		}
	}

	var counts map[string]int
	if r.ReactionCounts != "" {
		_ = json.Unmarshal([]byte(r.ReactionCounts), &counts)
	}

	msg := models.Message{
		ID:              r.ID,
		CID:             r.CID,
		Text:            r.Text,
		Type:            r.Type,
		User:            userFor(r.User, users),
		Attachments:     attachments,
		MentionedUsers:  mentioned,
		LatestReactions: rowsToReactions(r.LatestReactions, users),
		OwnReactions:    rowsToReactions(r.OwnReactions, users),
		ReactionCounts:  counts,
		UpdatedAt:       models.ParseTime(r.UpdatedAt),
		DeletedAt:       models.ParseTime(r.DeletedAt),
		ExtraData:       rawJSON(r.ExtraData),
	}
	if t := models.ParseTime(r.CreatedAt); t != nil {
		msg.CreatedAt = *t
	}
	return msg
}

func rowsToReactions(rs []models.ReactionRow, users map[string]models.UserRow) []models.Reaction {
	out := make([]models.Reaction, 0, len(rs))
	for _, r := range rs {
		out = append(out, models.Reaction{
			ID:        r.ID,
			MessageID: r.MessageID,
			Type:      r.Type,
			User:      userFor(r.User, users),
			Score:     r.Score,
			CreatedAt: models.ParseTime(r.CreatedAt),
			UpdatedAt: models.ParseTime(r.UpdatedAt),
		})
	}
	return out
}

func rowToMember(r models.MemberRow, users map[string]models.UserRow) models.Member {
	return models.Member{
		UserID:    r.User,
		User:      userFor(r.User, users),
		Role:      r.Role,
		CreatedAt: models.ParseTime(r.CreatedAt),
		UpdatedAt: models.ParseTime(r.UpdatedAt),
	}
}

func rowToRead(r models.ReadRow, users map[string]models.UserRow) models.Read {
	read := models.Read{
		User:           userFor(r.User, users),
		UnreadMessages: r.UnreadMessages,
	}
	if t := models.ParseTime(r.LastRead); t != nil {
		read.LastRead = *t
	}
	return read
}

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
