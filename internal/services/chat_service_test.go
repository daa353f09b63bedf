package services

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-musicgpt-backend/internal/domain"
)

// ----- Fake repos -----

type fakeChatRepo struct {
	// capture args
	touchID   string
	touchName string

	getID   string
	getChat *domain.Chat
	getErr  error

	renameID   string
	renameName string
	renameErr  error

	deleteID  string
	deleteErr error

	listChats []domain.Chat
	listErr   error
}

func (r *fakeChatRepo) CreateOrTouchChat(ctx context.Context, db *gorm.DB, chatID, name string) (*domain.Chat, error) {
	r.touchID, r.touchName = chatID, name
	return &domain.Chat{ID: chatID, Name: name}, nil
}

func (r *fakeChatRepo) GetChat(ctx context.Context, db *gorm.DB, chatID string) (*domain.Chat, error) {
	r.getID = chatID
	return r.getChat, r.getErr
}

func (r *fakeChatRepo) ListChats(ctx context.Context, db *gorm.DB) ([]domain.Chat, error) {
	return r.listChats, r.listErr
}

func (r *fakeChatRepo) RenameChat(ctx context.Context, db *gorm.DB, chatID, name string) error {
	r.renameID, r.renameName = chatID, name
	return r.renameErr
}

func (r *fakeChatRepo) DeleteChat(ctx context.Context, db *gorm.DB, chatID string) error {
	r.deleteID = chatID
	return r.deleteErr
}

type fakeEntryRepo struct {
	appendChatID string
	appendID     string
	appendText   string
	appendErr    error

	upsertChatID  string
	upsertID      string
	upsertRelpath string
	upsertErrMsg  string
	upsertErr     error

	listEntries []domain.ChatEntry
	listErr     error

	markMessage string
	markN       int64
	markErr     error
}

func (r *fakeEntryRepo) AppendUserEntry(ctx context.Context, db *gorm.DB, chatID, entryID, text string) (*domain.ChatEntry, error) {
	r.appendChatID, r.appendID, r.appendText = chatID, entryID, text
	return &domain.ChatEntry{EntryID: entryID, ChatID: chatID, Role: domain.RoleUser, Text: text}, r.appendErr
}

func (r *fakeEntryRepo) UpsertAIEntry(ctx context.Context, db *gorm.DB, chatID, entryID, relpath, errMsg string) (*domain.ChatEntry, error) {
	r.upsertChatID, r.upsertID, r.upsertRelpath, r.upsertErrMsg = chatID, entryID, relpath, errMsg
	return &domain.ChatEntry{EntryID: entryID, ChatID: chatID, Role: domain.RoleAI, Relpath: relpath, Error: errMsg}, r.upsertErr
}

func (r *fakeEntryRepo) ListEntries(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatEntry, error) {
	return r.listEntries, r.listErr
}

func (r *fakeEntryRepo) MarkInterruptedEntries(ctx context.Context, db *gorm.DB, message string) (int64, error) {
	r.markMessage = message
	return r.markN, r.markErr
}

func newTestService() (*ChatService, *fakeChatRepo, *fakeEntryRepo) {
	cr := &fakeChatRepo{}
	er := &fakeEntryRepo{}
	return NewChatService(nil, cr, er), cr, er
}

// ----- Tests -----

func TestNewChatService_Defaults(t *testing.T) {
	s, cr, er := newTestService()

	if s.DB != nil { // DB can be nil in tests
		t.Fatalf("expected nil DB, got %v", s.DB)
	}
	if s.Chats != cr || s.Entries != er {
		t.Fatalf("repos not set")
	}
	if s.NameMaxLen != 60 {
		t.Fatalf("NameMaxLen default = 60, got %d", s.NameMaxLen)
	}
	if s.NameLocale != language.Und {
		t.Fatalf("NameLocale default = Und, got %v", s.NameLocale)
	}
}

func TestCreateFromPrompt_DerivesName(t *testing.T) {
	cases := map[string]string{
		"create a cool song":           "Cool Song",
		"make some music with drums":   "Music Drums",
		"   ":                          "New chat",
		"":                             "New chat",
		"lofi beats to relax":          "Lofi Beats Relax",
		"generate an epic theme":       "Epic Theme",
	}
	for prompt, want := range cases {
		s, cr, _ := newTestService()
		if _, err := s.CreateFromPrompt(context.Background(), "c1", prompt); err != nil {
			t.Fatalf("CreateFromPrompt(%q): %v", prompt, err)
		}
		if cr.touchName != want {
			t.Errorf("name for %q = %q; want %q", prompt, cr.touchName, want)
		}
	}
}

func TestCreateFromPrompt_ClipsUsingRunesNotBytes(t *testing.T) {
	s, cr, _ := newTestService()
	s.NameMaxLen = 5

	if _, err := s.CreateFromPrompt(context.Background(), "c1", "ünïcödé prompt"); err != nil {
		t.Fatalf("CreateFromPrompt: %v", err)
	}
	if utf8.RuneCountInString(cr.touchName) > 5 {
		t.Fatalf("name %q longer than 5 runes", cr.touchName)
	}
}

func TestAppendUser_EmptyPromptRejected(t *testing.T) {
	s, _, _ := newTestService()
	if err := s.AppendUser(context.Background(), "c1", "e1", "   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestAppendUser_TouchesChatThenAppends(t *testing.T) {
	s, cr, er := newTestService()
	if err := s.AppendUser(context.Background(), "c1", "e1", "a prompt"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}
	if cr.touchID != "c1" {
		t.Fatalf("chat not touched before append: %q", cr.touchID)
	}
	if er.appendChatID != "c1" || er.appendID != "e1" || er.appendText != "a prompt" {
		t.Fatalf("append args: %q %q %q", er.appendChatID, er.appendID, er.appendText)
	}
	// The in-flight placeholder follows the user entry.
	if er.upsertChatID != "c1" || er.upsertID != "e1" || er.upsertRelpath != "" || er.upsertErrMsg != "" {
		t.Fatalf("placeholder upsert: %q %q %q %q", er.upsertChatID, er.upsertID, er.upsertRelpath, er.upsertErrMsg)
	}
}

func TestResolveAI_ForwardsTerminalFields(t *testing.T) {
	s, _, er := newTestService()
	if err := s.ResolveAI(context.Background(), "c1", "e1", "audios/e1.wav", ""); err != nil {
		t.Fatalf("ResolveAI: %v", err)
	}
	if er.upsertRelpath != "audios/e1.wav" || er.upsertErrMsg != "" {
		t.Fatalf("upsert fields: %q %q", er.upsertRelpath, er.upsertErrMsg)
	}
}

func TestGet_NotFoundMapped(t *testing.T) {
	s, cr, _ := newTestService()
	cr.getErr = gorm.ErrRecordNotFound
	if _, _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestGet_ReturnsMetadataAndEntries(t *testing.T) {
	s, cr, er := newTestService()
	cr.getChat = &domain.Chat{ID: "c1", Name: "Foo"}
	er.listEntries = []domain.ChatEntry{
		{EntryID: "e1", ChatID: "c1", Role: domain.RoleUser, Text: "p"},
		{EntryID: "e1", ChatID: "c1", Role: domain.RoleAI, Relpath: "audios/e1.wav"},
	}

	chat, entries, err := s.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if chat.Name != "Foo" || len(entries) != 2 {
		t.Fatalf("unexpected result: %+v, %d entries", chat, len(entries))
	}
}

func TestSetMetadata_NilNameChecksExistenceOnly(t *testing.T) {
	s, cr, _ := newTestService()
	cr.getChat = &domain.Chat{ID: "c1"}
	if err := s.SetMetadata(context.Background(), "c1", nil); err != nil {
		t.Fatalf("SetMetadata(nil): %v", err)
	}
	if cr.renameID != "" {
		t.Fatalf("rename called on nil name")
	}

	cr2 := &fakeChatRepo{getErr: gorm.ErrRecordNotFound}
	s2 := NewChatService(nil, cr2, &fakeEntryRepo{})
	if err := s2.SetMetadata(context.Background(), "ghost", nil); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestSetMetadata_NormalizesAndRenames(t *testing.T) {
	s, cr, _ := newTestService()
	name := "  My   Cool\tMix "
	if err := s.SetMetadata(context.Background(), "c1", &name); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if cr.renameID != "c1" || cr.renameName != "My Cool Mix" {
		t.Fatalf("rename args: %q %q", cr.renameID, cr.renameName)
	}
}

func TestSetMetadata_BlankNameFallsBack(t *testing.T) {
	s, cr, _ := newTestService()
	name := "   "
	if err := s.SetMetadata(context.Background(), "c1", &name); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if cr.renameName != "Untitled" {
		t.Fatalf("rename name = %q; want Untitled", cr.renameName)
	}
}

func TestDelete_NotFoundMapped(t *testing.T) {
	s, cr, _ := newTestService()
	cr.deleteErr = gorm.ErrRecordNotFound
	if err := s.Delete(context.Background(), "ghost"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestMarkInterrupted_UsesStableMessage(t *testing.T) {
	s, _, er := newTestService()
	er.markN = 2
	n, err := s.MarkInterrupted(context.Background())
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 2 {
		t.Fatalf("reconciled = %d; want 2", n)
	}
	if er.markMessage != InterruptedMessage {
		t.Fatalf("message = %q; want %q", er.markMessage, InterruptedMessage)
	}
}
