// Package domain defines the persistence models for chats and their entries.
// These types are mapped with GORM and form the core data layer of the
// generation server.
package domain

import (
	"time"
)

// Entry roles. A chat entry is either a user prompt or an AI result; the two
// halves of a request/response pair share the same EntryID.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// Chat represents a conversation thread of prompts and generated audio.
// Chats are created implicitly by the first generation request that targets
// their id and renamed only through an explicit metadata update.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), supplied by the client.
//   - Name: human-readable chat name (auto-generated from the first prompt
//     when the chat is created through a new-chat generation request).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM. CreatedAt is fixed
//     at first write and never changes on rename.
type Chat struct {
	ID        string    `json:"chat_id"    gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;default:''"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// ChatEntry is one element of a chat's ordered history: either a user prompt
// (Role == RoleUser) or an AI result (Role == RoleAI). Entries are append-only
// and read back in insertion order via the autoincrement Seq key.
//
// For AI entries exactly one of Relpath/Error is eventually set, at job
// completion. An AI entry with neither set is still in flight (or was left
// dangling by a crash; see services.ChatService.MarkInterrupted).
//
// Fields:
//   - Seq: autoincrement primary key; defines insertion order per chat.
//   - EntryID: the generation request id shared by a User entry and its AI
//     response (unique per role within a chat).
//   - ChatID: foreign key to the owning chat (cascade delete).
//   - Text: the prompt text (user entries only).
//   - Relpath: relative path to the generated audio artifact (AI success).
//   - Error: terminal error message (AI failure or abort).
type ChatEntry struct {
	Seq       uint64    `json:"-"                 gorm:"primaryKey;autoIncrement"`
	EntryID   string    `json:"id"                gorm:"type:char(36);not null;index;uniqueIndex:ux_entry_chat_role"`
	ChatID    string    `json:"chat_id"           gorm:"type:char(36);not null;index:idx_chat_entries;uniqueIndex:ux_entry_chat_role"`
	Role      string    `json:"role"              gorm:"type:varchar(8);not null;check:role IN ('user','ai');uniqueIndex:ux_entry_chat_role"`
	Text      string    `json:"text,omitempty"    gorm:"type:text"`
	Relpath   string    `json:"relpath,omitempty" gorm:"type:varchar(512)"`
	Error     string    `json:"error,omitempty"   gorm:"type:text"`
	CreatedAt time.Time `json:"-"`

	// Chat is the parent conversation. Entries are cascade-deleted if their
	// chat is removed.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatEntry.
func (ChatEntry) TableName() string { return "chat_entries" }

// IsAI reports whether the entry is an AI result entry.
func (e *ChatEntry) IsAI() bool { return e.Role == RoleAI }

// Resolved reports whether an AI entry has reached a terminal outcome,
// i.e. either a relpath or an error has been recorded.
func (e *ChatEntry) Resolved() bool {
	return e.Relpath != "" || e.Error != ""
}
