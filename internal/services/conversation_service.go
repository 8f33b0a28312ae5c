// Package services – ConversationService
//
// This file implements the ConversationService, which manages the lifecycle
// of conversations. A conversation pins the provider, model and the set of
// documents its answers are grounded on. Titles are validated and normalized
// here; automatic title generation happens in MessageService on the first
// user message.
//
// Service-level errors (e.g., ErrConversationNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/rag"
	"github.com/tbourn/go-docchat-rag/internal/repo"
)

const (
	// placeholder titles eligible for auto-generation
	defaultTitleNew      = "New conversation"
	defaultTitleUntitled = "Untitled"

	// MaxDocumentsPerRequest caps how many documents one conversation or
	// answer request may be grounded on.
	MaxDocumentsPerRequest = 20
)

// ConversationRepo defines the repository contract required by
// ConversationService.
type ConversationRepo interface {
	CreateConversation(ctx context.Context, db *gorm.DB, in repo.NewConversation) (*domain.Conversation, error)
	GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error
	CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error)
	// OwnedDocumentIDs filters ids down to documents owned by userID.
	OwnedDocumentIDs(ctx context.Context, db *gorm.DB, userID string, ids []string) ([]string, error)
}

// RepoAdapter implements ConversationRepo with the repo package functions.
type RepoAdapter struct{}

func (RepoAdapter) CreateConversation(ctx context.Context, db *gorm.DB, in repo.NewConversation) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, in)
}

func (RepoAdapter) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}

func (RepoAdapter) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}

func (RepoAdapter) CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID)
}

func (RepoAdapter) ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, offset, limit)
}

func (RepoAdapter) OwnedDocumentIDs(ctx context.Context, db *gorm.DB, userID string, ids []string) ([]string, error) {
	return repo.OwnedDocumentIDs(ctx, db, userID, ids)
}

// NewConversation is the input of ConversationService.Create.
type NewConversation struct {
	Title       string
	Provider    string
	Model       string
	DocumentIDs []string
}

// ConversationService provides conversation-level operations such as
// creating, listing, and renaming. It enforces title rules, provider
// resolution and document ownership.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo
	// Providers, when set, rejects unknown provider names at creation time.
	Providers rag.Providers
	// DefaultProvider is used when a request names none.
	DefaultProvider string

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewConversationService constructs a ConversationService with defaults for
// title handling.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{
		DB:              db,
		Repo:            r,
		DefaultProvider: "openai",
		TitleMaxLen:     60,
	}
}

// Create inserts a new conversation owned by userID. Every document id must
// belong to the user.
func (s *ConversationService) Create(ctx context.Context, userID string, in NewConversation) (*domain.Conversation, error) {
	title := normalizeTitle(in.Title)
	if title == "" {
		title = defaultTitleNew
	}

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = s.DefaultProvider
	}
	if s.Providers != nil {
		if _, err := s.Providers.Get(provider); err != nil {
			return nil, err
		}
	}

	docs, err := s.ownedDocuments(ctx, userID, in.DocumentIDs)
	if err != nil {
		return nil, err
	}

	return s.Repo.CreateConversation(ctx, s.DB, repo.NewConversation{
		UserID:      userID,
		Title:       s.clip(title),
		Provider:    provider,
		Model:       strings.TrimSpace(in.Model),
		DocumentIDs: docs,
	})
}

// ownedDocuments dedups ids and checks that userID owns all of them.
func (s *ConversationService) ownedDocuments(ctx context.Context, userID string, ids []string) ([]string, error) {
	return checkOwnedDocuments(ctx, s.DB, s.Repo.OwnedDocumentIDs, userID, ids)
}

type ownedFunc func(ctx context.Context, db *gorm.DB, userID string, ids []string) ([]string, error)

func checkOwnedDocuments(ctx context.Context, db *gorm.DB, owned ownedFunc, userID string, ids []string) ([]string, error) {
	want := dedupIDs(ids)
	if len(want) == 0 {
		return nil, nil
	}
	if len(want) > MaxDocumentsPerRequest {
		return nil, ErrTooManyDocuments
	}
	got, err := owned(ctx, db, userID, want)
	if err != nil {
		return nil, err
	}
	if len(got) != len(want) {
		return nil, ErrDocumentNotFound
	}
	return want, nil
}

func dedupIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Get returns a conversation owned by userID.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	c, err := s.Repo.GetConversation(ctx, s.DB, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	return c, err
}

// ListPage returns a page of conversations for a user (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := s.Repo.ListConversationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// UpdateTitle renames a conversation owned by userID. Falls back to
// "Untitled" if title is blank.
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleUntitled
	}
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Repo.UpdateConversationTitle(ctx, s.DB, conversationID, userID, s.clip(title))
}

// clip truncates a title to the configured maximum rune length.
func (s *ConversationService) clip(title string) string {
	return clipRunes(title, s.TitleMaxLen)
}

func clipRunes(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
