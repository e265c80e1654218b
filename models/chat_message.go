package models

import "time"

// Role identifies the author of a chat message
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// ChatMessage is one turn in a conversation. Content may already be a
// redacted transform of what the author sent.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role" validate:"required,oneof=user model system tool"`
	Content   string    `json:"content" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider,omitempty"`
	Tokens    int       `json:"tokens,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Flagged   bool      `json:"flagged,omitempty"`
	Redacted  bool      `json:"redacted,omitempty"`
}
