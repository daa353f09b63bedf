// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-musicgpt-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and the protocol dispatcher.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateOrTouchChat inserts a Chat row for chatID unless one already exists.
// The operation is idempotent: the first write establishes Name and CreatedAt,
// later calls leave the existing row untouched and return it.
func CreateOrTouchChat(ctx context.Context, db *gorm.DB, chatID, name string) (*domain.Chat, error) {
	c := &domain.Chat{}
	err := db.WithContext(ctx).
		Where(&domain.Chat{ID: chatID}).
		Attrs(&domain.Chat{ID: chatID, Name: name, CreatedAt: time.Now().UTC()}).
		FirstOrCreate(c).Error
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetChat fetches a single chat by its ID. If the record does not exist,
// it returns ErrNotFound. On other DB errors, the raw error is returned.
func GetChat(ctx context.Context, db *gorm.DB, chatID string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).First(&c, "id = ?", chatID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns all chats ordered by creation time descending (most
// recent first). It returns an empty slice when no chats exist.
func ListChats(ctx context.Context, db *gorm.DB) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// RenameChat updates the name of the chat identified by chatID. CreatedAt is
// deliberately left untouched. If no rows are affected (chat missing), it
// returns ErrNotFound.
func RenameChat(ctx context.Context, db *gorm.DB, chatID, name string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteChat removes a chat and all of its entries. The removal is
// irreversible. Returns ErrNotFound when the chat does not exist.
func DeleteChat(ctx context.Context, db *gorm.DB, chatID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Entries first: SQLite cascade enforcement depends on the
		// foreign_keys PRAGMA of the current connection.
		if err := tx.Where("chat_id = ?", chatID).Delete(&domain.ChatEntry{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Chat{}, "id = ?", chatID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
