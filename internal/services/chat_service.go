// Package services – ChatService
//
// This file implements the ChatService, the single source of truth for chat
// history. It coordinates repository operations for creating chats on first
// use, appending user prompts, resolving AI results, renaming, listing, and
// deleting chats. New chats take their name from the first prompt (normalized,
// title-cased, clipped), so the sidebar shows something meaningful without a
// manual rename.
//
// Service-level errors (e.g., ErrChatNotFound) are returned for predictable
// cases so the protocol dispatcher can map them to wire replies consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-musicgpt-backend/internal/domain"
)

// InterruptedMessage is written into the error field of any AI entry left
// dangling by a previous process (crash or restart mid-job).
const InterruptedMessage = "interrupted: server stopped while the job was in flight"

// ChatRepo defines the repository contract required by ChatService for chat
// metadata. Implementations are responsible for persistence of chat rows.
type ChatRepo interface {
	// CreateOrTouchChat inserts the chat row if absent; idempotent.
	CreateOrTouchChat(ctx context.Context, db *gorm.DB, chatID, name string) (*domain.Chat, error)

	// GetChat fetches a chat by ID, repo.ErrNotFound when missing.
	GetChat(ctx context.Context, db *gorm.DB, chatID string) (*domain.Chat, error)

	// ListChats returns all chats ordered by creation time descending.
	ListChats(ctx context.Context, db *gorm.DB) ([]domain.Chat, error)

	// RenameChat updates a chat's name, leaving CreatedAt untouched.
	RenameChat(ctx context.Context, db *gorm.DB, chatID, name string) error

	// DeleteChat removes the chat and all of its entries.
	DeleteChat(ctx context.Context, db *gorm.DB, chatID string) error
}

// EntryRepo defines the repository contract required by ChatService for
// chat history entries.
type EntryRepo interface {
	// AppendUserEntry appends a user prompt at the end of the history.
	AppendUserEntry(ctx context.Context, db *gorm.DB, chatID, entryID, text string) (*domain.ChatEntry, error)

	// UpsertAIEntry records or fills in an AI result keyed by entry id.
	UpsertAIEntry(ctx context.Context, db *gorm.DB, chatID, entryID, relpath, errMsg string) (*domain.ChatEntry, error)

	// ListEntries returns a chat's entries in insertion order.
	ListEntries(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatEntry, error)

	// MarkInterruptedEntries reconciles dangling AI entries after a restart.
	MarkInterruptedEntries(ctx context.Context, db *gorm.DB, message string) (int64, error)
}

// ChatService provides chat-level operations and owns the consistency rules
// of the history: every terminal job outcome is recorded here before clients
// are told about it, so a reconnecting client re-reading the chat sees the
// same state a live observer saw.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Chats is the chat metadata repository used by this service.
	Chats ChatRepo
	// Entries is the history entry repository used by this service.
	Entries EntryRepo

	// NameMaxLen caps stored chat names by rune length.
	NameMaxLen int
	// NameLocale selects the casing locale for auto-generated names.
	NameLocale language.Tag
}

// NewChatService constructs a ChatService with sane defaults for name handling.
func NewChatService(db *gorm.DB, chats ChatRepo, entries EntryRepo) *ChatService {
	return &ChatService{
		DB:         db,
		Chats:      chats,
		Entries:    entries,
		NameMaxLen: 60,
		NameLocale: language.Und,
	}
}

// CreateOrTouch ensures a chat row exists for chatID. The first write
// establishes CreatedAt; later calls are no-ops returning the existing chat.
func (s *ChatService) CreateOrTouch(ctx context.Context, chatID string) (*domain.Chat, error) {
	return s.Chats.CreateOrTouchChat(ctx, s.DB, chatID, "")
}

// CreateFromPrompt ensures a chat row exists for chatID, deriving its initial
// name from the prompt of the first generation request. Idempotent: an
// existing chat keeps its current name.
func (s *ChatService) CreateFromPrompt(ctx context.Context, chatID, prompt string) (*domain.Chat, error) {
	name := s.clip(s.nameFromPrompt(prompt))
	if name == "" {
		name = "New chat"
	}
	return s.Chats.CreateOrTouchChat(ctx, s.DB, chatID, name)
}

// AppendUser appends a user prompt entry followed by its in-flight AI
// placeholder, creating the chat on first use. The placeholder has neither
// relpath nor error set, which is the durable marker that the job has started
// but not finished: ResolveAI fills it on a terminal outcome, and
// MarkInterrupted reconciles it after a crash.
func (s *ChatService) AppendUser(ctx context.Context, chatID, entryID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPrompt
	}
	if _, err := s.Chats.CreateOrTouchChat(ctx, s.DB, chatID, ""); err != nil {
		return err
	}
	if _, err := s.Entries.AppendUserEntry(ctx, s.DB, chatID, entryID, text); err != nil {
		return err
	}
	_, err := s.Entries.UpsertAIEntry(ctx, s.DB, chatID, entryID, "", "")
	return err
}

// ResolveAI records the terminal outcome of a generation job: exactly one of
// relpath (success) or errMsg (failure/abort) should be non-empty. It fills
// the in-flight placeholder written by AppendUser; the upsert also creates
// the entry when the placeholder is missing, so a resolve is never lost.
func (s *ChatService) ResolveAI(ctx context.Context, chatID, entryID, relpath, errMsg string) error {
	_, err := s.Entries.UpsertAIEntry(ctx, s.DB, chatID, entryID, relpath, errMsg)
	return err
}

// Get returns a chat's metadata and its entries in insertion order.
// Returns ErrChatNotFound when the chat does not exist.
func (s *ChatService) Get(ctx context.Context, chatID string) (*domain.Chat, []domain.ChatEntry, error) {
	chat, err := s.Chats.GetChat(ctx, s.DB, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrChatNotFound
		}
		return nil, nil, err
	}
	entries, err := s.Entries.ListEntries(ctx, s.DB, chatID)
	if err != nil {
		return nil, nil, err
	}
	return chat, entries, nil
}

// List returns metadata for all chats, most recently created first.
func (s *ChatService) List(ctx context.Context) ([]domain.Chat, error) {
	return s.Chats.ListChats(ctx, s.DB)
}

// SetMetadata applies a partial metadata update. A nil name leaves the
// current name untouched; a non-nil name is normalized and clipped.
// CreatedAt never changes. Returns ErrChatNotFound for unknown chats.
func (s *ChatService) SetMetadata(ctx context.Context, chatID string, name *string) error {
	if name == nil {
		// Nothing to update, but an unknown chat is still an error.
		if _, err := s.Chats.GetChat(ctx, s.DB, chatID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChatNotFound
			}
			return err
		}
		return nil
	}
	n := normalizeName(*name)
	if n == "" {
		n = "Untitled"
	}
	if err := s.Chats.RenameChat(ctx, s.DB, chatID, s.clip(n)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	return nil
}

// Delete removes a chat and all of its entries, irreversibly.
// Returns ErrChatNotFound for unknown chats.
func (s *ChatService) Delete(ctx context.Context, chatID string) error {
	if err := s.Chats.DeleteChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	return nil
}

// MarkInterrupted reconciles AI entries left without a terminal outcome by a
// previous run. Called once on startup, before any new job executes, so no
// entry stays perpetually "in progress". Returns the number reconciled.
func (s *ChatService) MarkInterrupted(ctx context.Context) (int64, error) {
	return s.Entries.MarkInterruptedEntries(ctx, s.DB, InterruptedMessage)
}

// nameFromPrompt derives a concise chat name from the first prompt.
func (s *ChatService) nameFromPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	toks := nameWordRE.FindAllString(strings.ToLower(prompt), -1)
	if len(toks) == 0 {
		return ""
	}

	caser := cases.Title(s.nameLocaleOrDefault())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := nameStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

// clip truncates a chat name to the configured maximum rune length.
func (s *ChatService) clip(name string) string {
	max := s.NameMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(name) > max {
		return string([]rune(name)[:max])
	}
	return name
}

// nameLocaleOrDefault returns the configured locale for casing or English if unset.
func (s *ChatService) nameLocaleOrDefault() language.Tag {
	if s.NameLocale == language.Und {
		return language.English
	}
	return s.NameLocale
}

// normalizeName trims whitespace and collapses multiple spaces to one.
func normalizeName(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// nameWordRE extracts Unicode letter runs with optional trailing digits.
var nameWordRE = regexp.MustCompile(`\pL+\d*`)

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// nameStopWords are filler words skipped when deriving a chat name from a
// prompt ("create a cool song with drums" -> "Cool Song Drums").
var nameStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "for": {},
	"with": {}, "to": {}, "in": {}, "on": {}, "that": {}, "this": {},
	"make": {}, "create": {}, "generate": {}, "compose": {}, "play": {},
	"please": {}, "me": {}, "some": {},
}
