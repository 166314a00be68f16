package models

import "time"

// Flat storable row shapes. These mirror the persisted table set:
// queryChannelsMap, channels, messages, reactions, reads, users, members.
// All timestamps are stored as RFC 3339 text so rows survive any backend
// unchanged; embedded users are replaced by their id.

type UserRow struct {
	ID   string `json:"id" db:"id"`
	Role string `json:"role" db:"role"`
	// Online is kept as text ("true"/"false") per the table shape.
	Online     string `json:"online" db:"online"`
	Banned     bool   `json:"banned" db:"banned"`
	LastActive string `json:"last_active" db:"last_active"`
	CreatedAt  string `json:"created_at" db:"created_at"`
	UpdatedAt  string `json:"updated_at" db:"updated_at"`
	ExtraData  string `json:"extra_data" db:"extra_data"`
}

type ChannelRow struct {
	ID   string `json:"id" db:"id"`
	Type string `json:"type" db:"type"`
	CID  string `json:"cid" db:"cid"`
	// Members, Messages and Reads hold the storage keys of the side
	// entries owned by this channel.
	Members        string `json:"members" db:"members"`
	Messages       string `json:"messages" db:"messages"`
	Reads          string `json:"read" db:"read"`
	PinnedMessages string `json:"pinned_messages" db:"pinned_messages"`
	ExtraData      string `json:"extra_data" db:"extra_data"`
	CreatedAt      string `json:"created_at" db:"created_at"`
	UpdatedAt      string `json:"updated_at" db:"updated_at"`
	LastMessageAt  string `json:"last_message_at" db:"last_message_at"`
}

type MessageRow struct {
	ID   string `json:"id" db:"id"`
	CID  string `json:"cid" db:"cid"`
	Text string `json:"text" db:"text"`
	Type string `json:"type" db:"type"`
	// User is the sender's user id.
	User        string `json:"user" db:"user"`
	Attachments string `json:"attachments" db:"attachments"`
	// MentionedUsers is a JSON array of user ids.
	MentionedUsers string `json:"mentioned_users" db:"mentioned_users"`
	// Reaction rows ride along with the message; their User field is an
	// id reference. The relational backend splits them into the
	// reactions table.
	LatestReactions []ReactionRow `json:"latest_reactions" db:"-"`
	OwnReactions    []ReactionRow `json:"own_reactions" db:"-"`
	ReactionCounts  string        `json:"reaction_counts" db:"reaction_counts"`
	CreatedAt       string        `json:"created_at" db:"created_at"`
	UpdatedAt       string        `json:"updated_at" db:"updated_at"`
	DeletedAt       string        `json:"deleted_at" db:"deleted_at"`
	ExtraData       string        `json:"extra_data" db:"extra_data"`
}

type ReactionRow struct {
	ID        string `json:"id" db:"id"`
	MessageID string `json:"message_id" db:"message_id"`
	Type      string `json:"type" db:"type"`
	User      string `json:"user" db:"user"`
	Score     int    `json:"score" db:"score"`
	CreatedAt string `json:"created_at" db:"created_at"`
	UpdatedAt string `json:"updated_at" db:"updated_at"`
}

type MemberRow struct {
	ID        string `json:"id" db:"id"`
	CID       string `json:"cid" db:"cid"`
	User      string `json:"user" db:"user"`
	Role      string `json:"role" db:"role"`
	CreatedAt string `json:"created_at" db:"created_at"`
	UpdatedAt string `json:"updated_at" db:"updated_at"`
}

type ReadRow struct {
	ID             string `json:"id" db:"id"`
	CID            string `json:"cid" db:"cid"`
	User           string `json:"user" db:"user"`
	LastRead       string `json:"last_read" db:"last_read"`
	UnreadMessages int    `json:"unread_messages" db:"unread_messages"`
}

// QueryRow is one materialized channel-list query: an ordered cid list
// under a (filters, sort) fingerprint.
type QueryRow struct {
	ID           string   `json:"id" db:"id"`
	CIDs         []string `json:"cids" db:"-"`
	LastSyncedAt string   `json:"last_synced_at" db:"last_synced_at"`
}

// FormatTime renders a timestamp for row storage; zero times become "".
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime is the inverse of FormatTime. Unparseable or empty text
// yields nil rather than an error: rows written by older builds must
// still hydrate.
func ParseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
