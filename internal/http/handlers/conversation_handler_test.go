package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/llm"
	"github.com/tbourn/go-docchat-rag/internal/repo"
	"github.com/tbourn/go-docchat-rag/internal/services"
)

func TestCreateConversation(t *testing.T) {
	t.Run("bad JSON", func(t *testing.T) {
		r := newTestRouter(newHandlers(Deps{}))
		w := doJSON(r, http.MethodPost, "/conversations", "{")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", w.Code)
		}
	})

	t.Run("passes input and user", func(t *testing.T) {
		var got services.NewConversation
		var gotUser string
		h := newHandlers(Deps{Conversations: stubConvSvc{
			create: func(_ context.Context, u string, in services.NewConversation) (*domain.Conversation, error) {
				got, gotUser = in, u
				return &domain.Conversation{ID: "c1", UserID: u, Title: in.Title, Provider: in.Provider}, nil
			},
		}})
		r := newTestRouter(h)

		w := doJSON(r, http.MethodPost, "/conversations", map[string]any{
			"title":        "  Policies ",
			"provider":     "anthropic",
			"document_ids": []string{"d1", "d2"},
		}, "X-User-ID", "u1")
		if w.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		if gotUser != "u1" || got.Title != "Policies" || got.Provider != "anthropic" || len(got.DocumentIDs) != 2 {
			t.Fatalf("unexpected input: user=%q %+v", gotUser, got)
		}
		var conv domain.Conversation
		if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil || conv.ID != "c1" {
			t.Fatalf("body=%s err=%v", w.Body.String(), err)
		}
	})

	t.Run("service errors", func(t *testing.T) {
		cases := map[error]int{
			services.ErrDocumentNotFound:                      http.StatusNotFound,
			services.ErrTooManyDocuments:                      http.StatusBadRequest,
			fmt.Errorf("%w: %q", llm.ErrUnknownProvider, "x"): http.StatusBadRequest,
		}
		for svcErr, want := range cases {
			h := newHandlers(Deps{Conversations: stubConvSvc{
				create: func(context.Context, string, services.NewConversation) (*domain.Conversation, error) {
					return nil, svcErr
				},
			}})
			w := doJSON(newTestRouter(h), http.MethodPost, "/conversations", map[string]any{})
			if w.Code != want {
				t.Fatalf("%v: status=%d want %d", svcErr, w.Code, want)
			}
		}
	})
}

func TestListConversations_PaginationAndETag(t *testing.T) {
	db := newHandlerDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := repo.CreateConversation(ctx, db, repo.NewConversation{UserID: "u1", Title: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var gotPage, gotSize int
	h := newHandlers(Deps{DB: db, Conversations: stubConvSvc{
		listPage: func(_ context.Context, u string, p, ps int) ([]domain.Conversation, int64, error) {
			gotPage, gotSize = p, ps
			return []domain.Conversation{{ID: "c0", UserID: u}}, 3, nil
		},
	}})
	r := newTestRouter(h)

	w := doJSON(r, http.MethodGet, "/conversations?page=2&page_size=500", nil, "X-User-ID", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if gotPage != 2 || gotSize != 100 {
		t.Fatalf("pagination passed as %d/%d, want 2/100", gotPage, gotSize)
	}
	var resp ListConversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.Total != 3 || len(resp.Conversations) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag")
	}
	w = doJSON(r, http.MethodGet, "/conversations", nil, "X-User-ID", "u1", "If-None-Match", etag)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}

	// A different user gets a different tag.
	w = doJSON(r, http.MethodGet, "/conversations", nil, "X-User-ID", "u2", "If-None-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("other user status=%d", w.Code)
	}
}

func TestUpdateConversationTitle(t *testing.T) {
	id := uuid.NewString()

	r := newTestRouter(newHandlers(Deps{}))
	if w := doJSON(r, http.MethodPut, "/conversations/not-a-uuid/title", map[string]string{"title": "x"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}
	if w := doJSON(r, http.MethodPut, "/conversations/"+id+"/title", map[string]string{"title": "   "}); w.Code != http.StatusBadRequest {
		t.Fatalf("blank title status=%d", w.Code)
	}
	if w := doJSON(r, http.MethodPut, "/conversations/"+id+"/title", map[string]string{"title": "Renamed"}); w.Code != http.StatusNoContent {
		t.Fatalf("rename status=%d", w.Code)
	}

	h := newHandlers(Deps{Conversations: stubConvSvc{
		updateTitle: func(context.Context, string, string, string) error { return services.ErrConversationNotFound },
	}})
	w := doJSON(newTestRouter(h), http.MethodPut, "/conversations/"+id+"/title", map[string]string{"title": "Renamed"})
	if w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeNotFound {
		t.Fatalf("missing status=%d", w.Code)
	}
}

func TestGetConversation(t *testing.T) {
	id := uuid.NewString()
	h := newHandlers(Deps{Conversations: stubConvSvc{
		get: func(_ context.Context, u, got string) (*domain.Conversation, error) {
			if u != "owner" {
				return nil, services.ErrConversationNotFound
			}
			return &domain.Conversation{ID: got, UserID: u}, nil
		},
	}})
	r := newTestRouter(h)

	if w := doJSON(r, http.MethodGet, "/conversations/nope", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/conversations/"+id, nil, "X-User-ID", "owner"); w.Code != http.StatusOK {
		t.Fatalf("owner status=%d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/conversations/"+id, nil, "X-User-ID", "stranger"); w.Code != http.StatusNotFound {
		t.Fatalf("stranger status=%d", w.Code)
	}
}
