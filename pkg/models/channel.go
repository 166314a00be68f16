package models

import (
	"encoding/json"
	"time"
)

// Channel is a fully linked channel graph: members, read states and the
// current message window, as supplied by the remote client or as
// reassembled by hydration.
type Channel struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// CID is the globally unique "<type>:<id>" pair.
	CID            string          `json:"cid"`
	Members        []Member        `json:"members,omitempty"`
	Messages       []Message       `json:"messages,omitempty"`
	Reads          []Read          `json:"read,omitempty"`
	PinnedMessages []string        `json:"pinned_messages,omitempty"`
	ExtraData      json.RawMessage `json:"extra_data,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
	// LastMessageAt never regresses: it is bumped only when an inserted
	// message is newer than the current value.
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Member ties a user to a channel. Identity is the (channel, user) pair.
type Member struct {
	UserID    string     `json:"user_id"`
	User      *User      `json:"user,omitempty"`
	Role      string     `json:"role,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Read is a per-member read state. It exists only alongside a member and
// is updated in place on read-state pushes.
type Read struct {
	User           *User     `json:"user"`
	LastRead       time.Time `json:"last_read"`
	UnreadMessages int       `json:"unread_messages,omitempty"`
}
