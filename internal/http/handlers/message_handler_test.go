package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-docchat-rag/internal/credits"
	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/http/middleware"
	"github.com/tbourn/go-docchat-rag/internal/llm"
	"github.com/tbourn/go-docchat-rag/internal/rag"
	"github.com/tbourn/go-docchat-rag/internal/repo"
	"github.com/tbourn/go-docchat-rag/internal/services"
)

func TestSanitizeContent(t *testing.T) {
	cases := map[string]string{
		"  hi  ":                 "hi",
		"a\r\nb":                 "a\nb",
		"a\rb":                   "a\nb",
		"para1\n\n\n\n\npara2":   "para1\n\npara2",
		"\n\n  keep\n\nthis  \n": "keep\n\nthis",
	}
	for in, want := range cases {
		if got := sanitizeContent(in); got != want {
			t.Fatalf("sanitizeContent(%q)=%q want %q", in, got, want)
		}
	}
}

func TestPostMessage_Validation(t *testing.T) {
	id := uuid.NewString()
	called := false
	h := newHandlers(Deps{
		MaxPromptRunes: 5,
		Messages: stubMsgSvc{answer: func(context.Context, string, string, string, services.AnswerOptions) (*services.Reply, error) {
			called = true
			return nil, nil
		}},
	})
	r := newTestRouter(h)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"bad id", "/conversations/abc/messages", map[string]string{"content": "hi"}},
		{"bad JSON", "/conversations/" + id + "/messages", "{"},
		{"missing content", "/conversations/" + id + "/messages", map[string]string{}},
		{"whitespace only", "/conversations/" + id + "/messages", map[string]string{"content": " \r\n "}},
		{"too long", "/conversations/" + id + "/messages", map[string]string{"content": "abcdef"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, tc.path, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
	if called {
		t.Fatalf("service must not be called for invalid input")
	}

	w := doJSON(r, http.MethodPost, "/conversations/"+id+"/messages", map[string]string{"content": "abcdef"})
	if !strings.Contains(w.Body.String(), "max 5 runes") {
		t.Fatalf("expected rune limit in message, got %s", w.Body.String())
	}
}

func TestPostMessage_PassesOptionsAndReplays(t *testing.T) {
	id := uuid.NewString()
	var gotOpts services.AnswerOptions
	var gotPrompt, gotUser string
	replay := false

	h := newHandlers(Deps{Messages: stubMsgSvc{
		answer: func(_ context.Context, u, conv, prompt string, opts services.AnswerOptions) (*services.Reply, error) {
			gotUser, gotPrompt, gotOpts = u, prompt, opts
			return &services.Reply{
				Message:  &domain.Message{ID: "m1", ConversationID: conv, Role: domain.RoleAssistant, Content: "five days"},
				Usage:    rag.Usage{Provider: "openai", PromptTokens: 10, CompletionTokens: 3, Cost: decimal.RequireFromString("0.0004")},
				Replayed: replay,
			}, nil
		},
	}})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	r.POST("/conversations/:id/messages", h.PostMessage)

	temp := 0.3
	body := map[string]any{
		"content":           "  How long?\r\n",
		"system_prompt":     "Be brief.",
		"max_output_tokens": 256,
		"temperature":       temp,
		"skip_cache":        true,
	}
	w := doJSON(r, http.MethodPost, "/conversations/"+id+"/messages", body, "X-User-ID", "u1", middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotUser != "u1" || gotPrompt != "How long?" {
		t.Fatalf("user=%q prompt=%q", gotUser, gotPrompt)
	}
	if gotOpts.IdempotencyKey != "k-1" || gotOpts.SystemPrompt != "Be brief." || gotOpts.MaxOutputTokens != 256 ||
		gotOpts.Temperature == nil || *gotOpts.Temperature != temp || !gotOpts.SkipCache {
		t.Fatalf("unexpected options: %+v", gotOpts)
	}
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("fresh answer must not be flagged as replay")
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Message.ID != "m1" || resp.Usage.Provider != "openai" || !resp.Usage.Cost.Equal(decimal.RequireFromString("0.0004")) {
		t.Fatalf("unexpected response: %+v", resp)
	}

	replay = true
	w = doJSON(r, http.MethodPost, "/conversations/"+id+"/messages", body, middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay status=%d header=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
}

func TestPostMessage_PipelineErrors(t *testing.T) {
	id := uuid.NewString()
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", services.ErrConversationNotFound, http.StatusNotFound},
		{"credit", &rag.StageError{Stage: rag.StageCreditCheck, Err: &credits.InsufficientCreditError{Balance: decimal.Zero, Required: decimal.NewFromInt(1)}}, http.StatusPaymentRequired},
		{"provider", &rag.StageError{Stage: rag.StageProviderCall, Err: &llm.ProviderError{Provider: "openai", StatusCode: 503}}, http.StatusBadGateway},
		{"timeout", &rag.StageError{Stage: rag.StageProviderCall, Err: &llm.ProviderTimeoutError{Provider: "openai", Err: context.DeadlineExceeded}}, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandlers(Deps{Messages: stubMsgSvc{
				answer: func(context.Context, string, string, string, services.AnswerOptions) (*services.Reply, error) {
					return nil, tc.err
				},
			}})
			w := doJSON(newTestRouter(h), http.MethodPost, "/conversations/"+id+"/messages", map[string]string{"content": "hi"})
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d", w.Code, tc.want)
			}
		})
	}
}

func TestListMessages(t *testing.T) {
	db := newHandlerDB(t)
	ctx := context.Background()
	conv, err := repo.CreateConversation(ctx, db, repo.NewConversation{UserID: "u1", Title: "t"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.CreateMessage(db, &domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "q"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	h := newHandlers(Deps{DB: db, Messages: stubMsgSvc{
		list: func(_ context.Context, u, c string, p, ps int) ([]domain.Message, int64, error) {
			if u != "u1" {
				return nil, 0, services.ErrConversationNotFound
			}
			return []domain.Message{{ID: "m1", ConversationID: c}}, 1, nil
		},
	}})
	r := newTestRouter(h)
	path := "/conversations/" + conv.ID + "/messages"

	if w := doJSON(r, http.MethodGet, "/conversations/x/messages", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}

	w := doJSON(r, http.MethodGet, path, nil, "X-User-ID", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Messages) != 1 || resp.Pagination.Total != 1 {
		t.Fatalf("unexpected body %s (%v)", w.Body.String(), err)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("owner should get an ETag")
	}
	if w = doJSON(r, http.MethodGet, path, nil, "X-User-ID", "u1", "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}

	// Strangers get neither a tag nor the messages.
	w = doJSON(r, http.MethodGet, path, nil, "X-User-ID", "u2", "If-None-Match", etag)
	if w.Code != http.StatusNotFound || w.Header().Get("ETag") != "" {
		t.Fatalf("stranger status=%d etag=%q", w.Code, w.Header().Get("ETag"))
	}
}
