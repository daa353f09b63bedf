package services

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-musicgpt-backend/internal/domain"
	"github.com/tbourn/go-musicgpt-backend/internal/repo"
)

// Shims over the repository free functions, as wired in production.
type sqliteChatRepo struct{}

func (sqliteChatRepo) CreateOrTouchChat(ctx context.Context, db *gorm.DB, chatID, name string) (*domain.Chat, error) {
	return repo.CreateOrTouchChat(ctx, db, chatID, name)
}
func (sqliteChatRepo) GetChat(ctx context.Context, db *gorm.DB, chatID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, chatID)
}
func (sqliteChatRepo) ListChats(ctx context.Context, db *gorm.DB) ([]domain.Chat, error) {
	return repo.ListChats(ctx, db)
}
func (sqliteChatRepo) RenameChat(ctx context.Context, db *gorm.DB, chatID, name string) error {
	return repo.RenameChat(ctx, db, chatID, name)
}
func (sqliteChatRepo) DeleteChat(ctx context.Context, db *gorm.DB, chatID string) error {
	return repo.DeleteChat(ctx, db, chatID)
}

type sqliteEntryRepo struct{}

func (sqliteEntryRepo) AppendUserEntry(ctx context.Context, db *gorm.DB, chatID, entryID, text string) (*domain.ChatEntry, error) {
	return repo.AppendUserEntry(ctx, db, chatID, entryID, text)
}
func (sqliteEntryRepo) UpsertAIEntry(ctx context.Context, db *gorm.DB, chatID, entryID, relpath, errMsg string) (*domain.ChatEntry, error) {
	return repo.UpsertAIEntry(ctx, db, chatID, entryID, relpath, errMsg)
}
func (sqliteEntryRepo) ListEntries(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatEntry, error) {
	return repo.ListEntries(ctx, db, chatID)
}
func (sqliteEntryRepo) MarkInterruptedEntries(ctx context.Context, db *gorm.DB, message string) (int64, error) {
	return repo.MarkInterruptedEntries(ctx, db, message)
}

func newSQLiteService(t *testing.T) *ChatService {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "recovery.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewChatService(db, sqliteChatRepo{}, sqliteEntryRepo{})
}

// A process that dies after a job started but before any terminal outcome
// leaves the in-flight placeholder behind; the next startup must resolve it.
func TestMarkInterrupted_ReconcilesCrashedJob(t *testing.T) {
	s := newSQLiteService(t)
	ctx := context.Background()

	// The job started: user entry plus in-flight placeholder were written.
	// No ResolveAI follows; this is where the process died.
	if err := s.AppendUser(ctx, "c1", "j1", "a crashed prompt"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}

	n, err := s.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 1 {
		t.Fatalf("reconciled %d entries; want 1", n)
	}

	_, entries, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected user + ai entries, got %d", len(entries))
	}
	ai := entries[1]
	if ai.Role != domain.RoleAI || ai.Relpath != "" || ai.Error != InterruptedMessage {
		t.Fatalf("unexpected reconciled entry: %+v", ai)
	}
}

func TestMarkInterrupted_LeavesResolvedJobsAlone(t *testing.T) {
	s := newSQLiteService(t)
	ctx := context.Background()

	if err := s.AppendUser(ctx, "c1", "j1", "a finished prompt"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}
	if err := s.ResolveAI(ctx, "c1", "j1", "audios/j1.wav", ""); err != nil {
		t.Fatalf("ResolveAI: %v", err)
	}
	if err := s.AppendUser(ctx, "c1", "j2", "a failed prompt"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}
	if err := s.ResolveAI(ctx, "c1", "j2", "", "Failed at 2"); err != nil {
		t.Fatalf("ResolveAI: %v", err)
	}

	n, err := s.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 0 {
		t.Fatalf("reconciled %d entries; want 0", n)
	}

	_, entries, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[1].Relpath != "audios/j1.wav" || entries[1].Error != "" {
		t.Fatalf("completed entry modified: %+v", entries[1])
	}
	if entries[3].Error != "Failed at 2" {
		t.Fatalf("failed entry modified: %+v", entries[3])
	}
}
