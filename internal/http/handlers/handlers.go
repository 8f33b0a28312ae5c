// Package handlers implements the HTTP endpoints of the public API.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses (including conditional
// responses and the error envelope). Every service is consumed through a
// small interface so tests can substitute fakes.
package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/credits"
	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/http/middleware"
	"github.com/tbourn/go-docchat-rag/internal/rag"
	"github.com/tbourn/go-docchat-rag/internal/services"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle operations.
type ConversationService interface {
	Create(ctx context.Context, userID string, in services.NewConversation) (*domain.Conversation, error)
	Get(ctx context.Context, userID, id string) (*domain.Conversation, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	UpdateTitle(ctx context.Context, userID, conversationID, title string) error
}

// MessageService answers prompts within a conversation and lists its
// messages.
type MessageService interface {
	Answer(ctx context.Context, userID, conversationID, prompt string, opts services.AnswerOptions) (*services.Reply, error)
	ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
}

// DocumentService ingests, lists and deletes documents.
type DocumentService interface {
	Create(ctx context.Context, userID string, in services.NewDocument) (*domain.Document, error)
	CreateBatch(ctx context.Context, userID string, in []services.NewDocument) []services.BatchResult
	Get(ctx context.Context, userID, id string) (*domain.Document, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Document, int64, error)
	Chunks(ctx context.Context, userID, id string, page, pageSize int) ([]domain.Chunk, int64, error)
	Delete(ctx context.Context, userID, id string) error
}

// FeedbackService captures user feedback on assistant messages.
type FeedbackService interface {
	// Leave submits a feedback value (-1 or 1) for messageID by userID.
	Leave(ctx context.Context, userID, messageID string, value int) (*domain.Feedback, error)
}

// AskService answers stateless questions over a set of documents.
type AskService interface {
	Ask(ctx context.Context, userID string, req rag.Request) (*rag.Answer, error)
}

// CreditService exposes balances, deposits and usage.
type CreditService interface {
	Account(ctx context.Context, userID string, limit int) (*services.Account, error)
	Deposit(ctx context.Context, userID, amount, reference string) (decimal.Decimal, error)
	Usage(ctx context.Context, userID string, window time.Duration) (credits.Summary, error)
}

// CacheService is the cache administration surface.
type CacheService interface {
	Clear(ctx context.Context) (int64, error)
	Remove(ctx context.Context, key string) error
	Purge(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

//
// Handler wiring
//

// Deps lists the services behind the handlers. DB, when set, enables weak
// ETags on list endpoints.
type Deps struct {
	DB            *gorm.DB
	Conversations ConversationService
	Messages      MessageService
	Documents     DocumentService
	Feedback      FeedbackService
	Ask           AskService
	Credits       CreditService
	Cache         CacheService

	// MaxPromptRunes rejects long prompts at the edge; 0 uses 4000.
	MaxPromptRunes int
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	db      *gorm.DB
	convSvc ConversationService
	msgSvc  MessageService
	docSvc  DocumentService
	fbSvc   FeedbackService
	askSvc  AskService
	credSvc CreditService
	cacheSv CacheService

	maxPromptRunes int
}

// New constructs a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	maxRunes := d.MaxPromptRunes
	if maxRunes <= 0 {
		maxRunes = 4000
	}
	return &Handlers{
		db:             d.DB,
		convSvc:        d.Conversations,
		msgSvc:         d.Messages,
		docSvc:         d.Documents,
		fbSvc:          d.Feedback,
		askSvc:         d.Ask,
		credSvc:        d.Credits,
		cacheSv:        d.Cache,
		maxPromptRunes: maxRunes,
	}
}

// userID is the caller the request acts for (see middleware.CallerID).
func userID(c *gin.Context) string { return middleware.CallerID(c) }

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size, defaulting to 1 and 20 and
// capping page_size at 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return queryInt(c, "page", 1, 1, math.MaxInt), queryInt(c, "page_size", 20, 1, 100)
}

// queryInt reads an integer query parameter. Missing or malformed values
// yield def; parsed values are clamped to [lo, hi].
func queryInt(c *gin.Context, name string, def, lo, hi int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return min(max(n, lo), hi)
}

// pathUUID reads the :id path parameter and writes a 400 naming what when it
// is not a UUID.
func pathUUID(c *gin.Context, what string) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a UUID")
		return "", false
	}
	return id, true
}
