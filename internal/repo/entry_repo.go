// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatEntry
// model: append-only user prompts and upserted AI results, read back in
// insertion order.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-musicgpt-backend/internal/domain"
)

// AppendUserEntry inserts a user prompt entry at the end of the chat's
// history. Entries are never updated or reordered after insertion.
func AppendUserEntry(ctx context.Context, db *gorm.DB, chatID, entryID, text string) (*domain.ChatEntry, error) {
	e := &domain.ChatEntry{
		EntryID:   entryID,
		ChatID:    chatID,
		Role:      domain.RoleUser,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// UpsertAIEntry writes a job's AI entry. The upsert is keyed by
// (entry_id, chat_id, role): called with empty relpath and errMsg when the
// job starts it appends the in-flight placeholder, and called again at the
// terminal outcome it fills that placeholder's relpath/error in place.
func UpsertAIEntry(ctx context.Context, db *gorm.DB, chatID, entryID, relpath, errMsg string) (*domain.ChatEntry, error) {
	e := &domain.ChatEntry{
		EntryID:   entryID,
		ChatID:    chatID,
		Role:      domain.RoleAI,
		Relpath:   relpath,
		Error:     errMsg,
		CreatedAt: time.Now().UTC(),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_id"}, {Name: "chat_id"}, {Name: "role"}},
			DoUpdates: clause.AssignmentColumns([]string{"relpath", "error"}),
		}).
		Create(e).Error
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListEntries returns all entries of a chat in insertion order.
func ListEntries(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatEntry, error) {
	var out []domain.ChatEntry
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq asc").
		Find(&out).Error
	return out, err
}

// MarkInterruptedEntries fills the error field of every dangling AI entry
// (no relpath, no error) with the given message. Used on startup to reconcile
// jobs that were in flight when a previous process died. Returns the number
// of entries reconciled.
func MarkInterruptedEntries(ctx context.Context, db *gorm.DB, message string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ChatEntry{}).
		Where("role = ? AND relpath = '' AND error = ''", domain.RoleAI).
		Update("error", message)
	return res.RowsAffected, res.Error
}
