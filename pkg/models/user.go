package models

import (
	"encoding/json"
	"time"
)

// User is a chat user as delivered by the remote client. IDs and
// timestamps are server-assigned; the cache never mints them.
type User struct {
	ID         string          `json:"id"`
	Role       string          `json:"role,omitempty"`
	Online     bool            `json:"online,omitempty"`
	Banned     bool            `json:"banned,omitempty"`
	LastActive *time.Time      `json:"last_active,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
	ExtraData  json.RawMessage `json:"extra_data,omitempty"`
}

// StubUser returns the minimal placeholder substituted during hydration
// when a referenced user row is missing from storage.
func StubUser(id string) *User {
	return &User{ID: id}
}
