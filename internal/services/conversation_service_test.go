package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/llm"
	"github.com/tbourn/go-docchat-rag/internal/repo"
)

// ----- Fake repo -----

type fakeConversationRepo struct {
	created repo.NewConversation

	getConv *domain.Conversation
	getErr  error

	updateID, updateUserID, updateTitle string
	updateErr                           error

	countTotal int64
	countErr   error

	pageOffset, pageLimit int
	pageItems             []domain.Conversation

	owned []string
}

func (r *fakeConversationRepo) CreateConversation(_ context.Context, _ *gorm.DB, in repo.NewConversation) (*domain.Conversation, error) {
	r.created = in
	c := &domain.Conversation{ID: "c1", UserID: in.UserID, Title: in.Title, Provider: in.Provider, Model: in.Model}
	c.SetDocuments(in.DocumentIDs)
	return c, nil
}

func (r *fakeConversationRepo) GetConversation(context.Context, *gorm.DB, string, string) (*domain.Conversation, error) {
	return r.getConv, r.getErr
}

func (r *fakeConversationRepo) UpdateConversationTitle(_ context.Context, _ *gorm.DB, id, userID, title string) error {
	r.updateID, r.updateUserID, r.updateTitle = id, userID, title
	return r.updateErr
}

func (r *fakeConversationRepo) CountConversations(context.Context, *gorm.DB, string) (int64, error) {
	return r.countTotal, r.countErr
}

func (r *fakeConversationRepo) ListConversationsPage(_ context.Context, _ *gorm.DB, _ string, offset, limit int) ([]domain.Conversation, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, nil
}

func (r *fakeConversationRepo) OwnedDocumentIDs(_ context.Context, _ *gorm.DB, _ string, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		for _, o := range r.owned {
			if id == o {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

type namedProvider string

func (p namedProvider) Name() string { return string(p) }
func (p namedProvider) Generate(context.Context, llm.GenerateRequest) (*llm.Generation, error) {
	return &llm.Generation{Content: "ok"}, nil
}

// ----- Tests -----

func TestNewConversationService_Defaults(t *testing.T) {
	r := &fakeConversationRepo{}
	s := NewConversationService(nil, r)
	if s.Repo != r || s.DefaultProvider != "openai" || s.TitleMaxLen != 60 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestConversationService_Create_NormalizesInput(t *testing.T) {
	r := &fakeConversationRepo{owned: []string{"d1", "d2"}}
	s := NewConversationService(nil, r)

	c, err := s.Create(context.Background(), "u1", NewConversation{
		Title:       "  Travel \n  policy  ",
		Provider:    " Anthropic ",
		Model:       " claude-3-haiku ",
		DocumentIDs: []string{"d1", "d2", "d1", " "},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.created.Title != "Travel policy" || r.created.Provider != "anthropic" || r.created.Model != "claude-3-haiku" {
		t.Fatalf("unexpected repo input: %+v", r.created)
	}
	if docs := c.Documents(); len(docs) != 2 || docs[0] != "d1" || docs[1] != "d2" {
		t.Fatalf("documents = %v", docs)
	}
}

func TestConversationService_Create_DefaultsTitleAndProvider(t *testing.T) {
	r := &fakeConversationRepo{}
	s := NewConversationService(nil, r)
	if _, err := s.Create(context.Background(), "u1", NewConversation{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.created.Title != defaultTitleNew || r.created.Provider != "openai" || r.created.DocumentIDs != nil {
		t.Fatalf("unexpected defaults: %+v", r.created)
	}
}

func TestConversationService_Create_ClipsTitle(t *testing.T) {
	r := &fakeConversationRepo{}
	s := NewConversationService(nil, r)
	s.TitleMaxLen = 5
	_, _ = s.Create(context.Background(), "u1", NewConversation{Title: "αβγδεζηθ"})
	if utf8.RuneCountInString(r.created.Title) != 5 {
		t.Fatalf("title not clipped by runes: %q", r.created.Title)
	}
}

func TestConversationService_Create_RejectsUnknownProvider(t *testing.T) {
	reg := llm.NewRegistry()
	reg.Register(namedProvider("openai"))
	s := NewConversationService(nil, &fakeConversationRepo{})
	s.Providers = reg

	_, err := s.Create(context.Background(), "u1", NewConversation{Provider: "mystery"})
	if !errors.Is(err, llm.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestConversationService_Create_DocumentOwnership(t *testing.T) {
	s := NewConversationService(nil, &fakeConversationRepo{owned: []string{"d1"}})

	_, err := s.Create(context.Background(), "u1", NewConversation{DocumentIDs: []string{"d1", "foreign"}})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}

	many := make([]string, MaxDocumentsPerRequest+1)
	for i := range many {
		many[i] = strings.Repeat("d", i+1)
	}
	if _, err := s.Create(context.Background(), "u1", NewConversation{DocumentIDs: many}); !errors.Is(err, ErrTooManyDocuments) {
		t.Fatalf("expected ErrTooManyDocuments, got %v", err)
	}
}

func TestConversationService_ListPage(t *testing.T) {
	r := &fakeConversationRepo{countTotal: 0}
	s := NewConversationService(nil, r)

	items, total, err := s.ListPage(context.Background(), "u1", 0, 0)
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty page = %v, %d, %v", items, total, err)
	}

	r.countTotal = 45
	r.pageItems = []domain.Conversation{{ID: "c1"}}
	_, total, err = s.ListPage(context.Background(), "u1", 3, 10)
	if err != nil || total != 45 || r.pageOffset != 20 || r.pageLimit != 10 {
		t.Fatalf("paging = total %d offset %d limit %d err %v", total, r.pageOffset, r.pageLimit, err)
	}

	r.countErr = errors.New("db down")
	if _, _, err := s.ListPage(context.Background(), "u1", 1, 10); err == nil {
		t.Fatalf("expected count error")
	}
}

func TestConversationService_UpdateTitle(t *testing.T) {
	r := &fakeConversationRepo{getErr: gorm.ErrRecordNotFound}
	s := NewConversationService(nil, r)
	if err := s.UpdateTitle(context.Background(), "u1", "c1", "x"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	r.getErr, r.getConv = nil, &domain.Conversation{ID: "c1", UserID: "u1"}
	if err := s.UpdateTitle(context.Background(), "u1", "c1", "   "); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	if r.updateTitle != defaultTitleUntitled || r.updateID != "c1" || r.updateUserID != "u1" {
		t.Fatalf("unexpected update: %+v", r)
	}
}

func TestRepoAdapter_RoundTrip(t *testing.T) {
	db := newSvcDB(t, &domain.Conversation{}, &domain.Document{})
	s := NewConversationService(db, RepoAdapter{})
	if err := repo.CreateDocument(context.Background(), db, &domain.Document{ID: "d1", UserID: "u1", Title: "t", Source: "upload", ContentType: "text"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c, err := s.Create(context.Background(), "u1", NewConversation{Title: "Handbook", DocumentIDs: []string{"d1"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(context.Background(), "u1", c.ID)
	if err != nil || got.Title != "Handbook" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := s.Get(context.Background(), "u2", c.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("foreign Get = %v", err)
	}
	items, total, err := s.ListPage(context.Background(), "u1", 1, 10)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("ListPage = %v, %d, %v", items, total, err)
	}
}
