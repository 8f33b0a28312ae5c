// MessageService answers questions asked inside a conversation. Each answer
// is grounded on the conversation's documents, stored next to the question
// with its metered usage, and recorded under the caller's Idempotency-Key so
// that a retry replays it instead of paying for it twice.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/rag"
	"github.com/tbourn/go-docchat-rag/internal/repo"
)

// DefaultIdempotencyTTL is how long a recorded reply can be replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// Answerer produces grounded answers. *rag.Orchestrator implements it.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Answer, error)
}

// AnswerOptions tunes a single message request.
type AnswerOptions struct {
	IdempotencyKey  string
	SystemPrompt    string
	MaxOutputTokens int
	Temperature     *float64
	SkipCache       bool
}

// Reply is the result of MessageService.Answer.
type Reply struct {
	Message  *domain.Message
	Usage    rag.Usage
	Replayed bool
	Path     []rag.Stage
}

// MessageService coordinates message persistence and RAG answers.
type MessageService struct {
	DB  *gorm.DB
	RAG Answerer

	// MaxPromptRunes rejects longer questions; zero disables the check.
	MaxPromptRunes int

	// Placeholder titles are replaced by one derived from the first
	// question, cased for TitleLocale (English when unset) and clipped to
	// TitleMaxLen runes (60 when unset).
	TitleLocale language.Tag
	TitleMaxLen int

	// IdempotencyTTL bounds replays; zero means DefaultIdempotencyTTL.
	IdempotencyTTL time.Duration

	Log zerolog.Logger
}

// Answer validates prompt, verifies the conversation, obtains an answer and
// persists both messages atomically. A repeated idempotency key returns the
// reply recorded for it without calling the orchestrator.
func (s *MessageService) Answer(ctx context.Context, userID, conversationID, prompt string, opts AnswerOptions) (*Reply, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}

	conv, err := repo.GetConversation(ctx, s.DB, conversationID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	key := strings.TrimSpace(opts.IdempotencyKey)
	if key != "" {
		if prev := s.replay(ctx, userID, conversationID, key); prev != nil {
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return prev, nil
		}
	}

	ans, err := s.RAG.Answer(ctx, rag.Request{
		UserID:          userID,
		ConversationID:  conversationID,
		Query:           prompt,
		DocumentIDs:     conv.Documents(),
		Provider:        conv.Provider,
		Model:           conv.Model,
		SystemPrompt:    opts.SystemPrompt,
		MaxOutputTokens: opts.MaxOutputTokens,
		Temperature:     opts.Temperature,
		SkipCache:       opts.SkipCache,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	assistant := &domain.Message{
		ConversationID:   conversationID,
		Role:             domain.RoleAssistant,
		Content:          ans.Content,
		Score:            ans.TopScore(),
		Provider:         ans.Usage.Provider,
		PromptTokens:     ans.Usage.PromptTokens,
		CompletionTokens: ans.Usage.CompletionTokens,
		Cost:             ans.Usage.Cost,
		FromCache:        ans.Usage.FromCache,
		CacheKey:         ans.CacheKey,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		user := &domain.Message{ConversationID: conversationID, Role: domain.RoleUser, Content: prompt, CreatedAt: now}
		if err := repo.CreateMessage(tx, user); err != nil {
			return err
		}
		// strictly after the prompt so ordering by created_at is stable
		assistant.CreatedAt = now.Add(time.Microsecond)
		if err := repo.CreateMessage(tx, assistant); err != nil {
			return err
		}

		if isPlaceholderTitle(conv.Title) {
			if title := titleFromPrompt(prompt, s.TitleLocale, s.TitleMaxLen); title != "" {
				if err := repo.UpdateConversationTitle(ctx, tx, conversationID, userID, title); err != nil {
					return err
				}
			}
		}
		return repo.TouchConversation(ctx, tx, conversationID)
	})
	if err != nil {
		return nil, err
	}

	if key != "" {
		ttl := s.IdempotencyTTL
		if ttl <= 0 {
			ttl = DefaultIdempotencyTTL
		}
		if _, err := repo.CreateIdempotency(ctx, s.DB, userID, conversationID, key, assistant.ID, 200, ttl); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			s.Log.Warn().Err(err).Str("conversation_id", conversationID).Msg("idempotency record not stored")
		}
	}

	return &Reply{Message: assistant, Usage: ans.Usage, Path: ans.Path}, nil
}

// replay returns the reply recorded under key, or nil when there is none.
func (s *MessageService) replay(ctx context.Context, userID, conversationID, key string) *Reply {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, conversationID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return nil
	}
	prev, err := repo.GetMessage(s.DB.WithContext(ctx), rec.ResourceID)
	if err != nil {
		return nil
	}
	return &Reply{
		Message:  prev,
		Replayed: true,
		Usage: rag.Usage{
			Provider:         prev.Provider,
			PromptTokens:     prev.PromptTokens,
			CompletionTokens: prev.CompletionTokens,
			Cost:             prev.Cost,
			FromCache:        prev.FromCache,
		},
	}
}

// ListPage returns paginated messages for a conversation owned by userID.
func (s *MessageService) ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetConversation(ctx, s.DB, conversationID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}

	db := s.DB.WithContext(ctx)
	total, err := repo.CountMessages(db, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(db, conversationID, offset, pageSize)
	return items, total, err
}
