package models

import (
	"encoding/json"
	"time"
)

// Message types understood by the cache. Anything else is stored as-is.
const (
	MessageTypeRegular = "regular"
	MessageTypeDeleted = "deleted"
	MessageTypeSystem  = "system"
	MessageTypeError   = "error"
)

type Message struct {
	ID   string `json:"id"`
	CID  string `json:"cid"`
	Text string `json:"text,omitempty"`
	Type string `json:"type,omitempty"`
	User *User  `json:"user,omitempty"`
	// Attachments are opaque descriptors; the cache round-trips them
	// without interpreting their contents.
	Attachments     []json.RawMessage `json:"attachments"`
	MentionedUsers  []User            `json:"mentioned_users"`
	LatestReactions []Reaction        `json:"latest_reactions"`
	OwnReactions    []Reaction        `json:"own_reactions"`
	ReactionCounts  map[string]int    `json:"reaction_counts,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       *time.Time        `json:"updated_at,omitempty"`
	// DeletedAt marks soft deletion; a deleted message is read-only.
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	ExtraData json.RawMessage `json:"extra_data,omitempty"`
}

// Reaction is a single user's reaction on a message. The derived ID
// enforces at most one reaction per (message, user, type): re-applying
// the same reaction overwrites rather than duplicates.
type Reaction struct {
	ID        string     `json:"id,omitempty"`
	MessageID string     `json:"message_id"`
	Type      string     `json:"type"`
	User      *User      `json:"user,omitempty"`
	Score     int        `json:"score,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ReactionID derives the idempotent reaction identity.
func ReactionID(messageID, userID, reactionType string) string {
	return messageID + userID + reactionType
}
