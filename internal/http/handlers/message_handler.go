// Conversation messages. Posting a message runs the answer pipeline against
// the conversation's documents; a retried post carrying the same
// Idempotency-Key gets the recorded assistant message back with
// `Idempotency-Replayed: true` and is not charged again.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/http/middleware"
	"github.com/tbourn/go-docchat-rag/internal/rag"
	"github.com/tbourn/go-docchat-rag/internal/repo"
	"github.com/tbourn/go-docchat-rag/internal/services"
)

// PostMessageRequest is the JSON payload for sending a user message.
//
// Content is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer.
type PostMessageRequest struct {
	// Content is the user prompt. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"How long do refunds take?"`
	// SystemPrompt optionally replaces the default assistant instructions.
	SystemPrompt string `json:"system_prompt,omitempty"`
	// MaxOutputTokens caps the answer length; clamped to the provider limit.
	MaxOutputTokens int      `json:"max_output_tokens,omitempty" example:"1024"`
	Temperature     *float64 `json:"temperature,omitempty" example:"0.2"`
	// SkipCache forces a fresh provider call.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// PostMessageResponse is the JSON envelope for a newly created assistant message.
type PostMessageResponse struct {
	// Message is the assistant reply created as a result of the request.
	Message *domain.Message `json:"message"`
	Usage   rag.Usage       `json:"usage"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

var (
	lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// sanitizeContent unifies line endings, keeps at most one blank line between
// paragraphs and trims the ends. Questions are cache keys, so two spellings of
// the same text should hash alike.
func sanitizeContent(raw string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(lineEndings.Replace(raw), "\n\n"))
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Ask a question in a conversation
// @Description Appends the user message and an assistant answer grounded on the conversation's documents.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result, charged once).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "User ID that owns the conversation"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "User message payload"
//
// @Success     200  {object}  handlers.PostMessageResponse  "Assistant reply"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse        "Insufficient credit"
// @Failure     404  {object}  handlers.ErrorResponse        "Conversation not found"
// @Failure     502  {object}  handlers.ErrorResponse        "Provider error"
// @Failure     504  {object}  handlers.ErrorResponse        "Provider timeout"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	conversationID, valid := pathUUID(c, "conversation")
	if !valid {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	content := sanitizeContent(req.Content)
	if utf8.RuneCountInString(content) > h.maxPromptRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", h.maxPromptRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	reply, err := h.msgSvc.Answer(c.Request.Context(), userID(c), conversationID, content, services.AnswerOptions{
		IdempotencyKey:  idemKey,
		SystemPrompt:    req.SystemPrompt,
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
		SkipCache:       req.SkipCache,
	})
	if err != nil {
		failErr(c, err, ErrCodeAnswerFailed)
		return
	}

	if reply.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, http.StatusOK, PostMessageResponse{Message: reply.Message, Usage: reply.Usage})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation
// @Description Returns a paginated list of messages, oldest first.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header string  false "User ID (demo header)"  example(user123)
// @Param       id         path   string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID, valid := pathUUID(c, "conversation")
	if !valid {
		return
	}
	uid := userID(c)

	// Only owners get an ETag, so a foreign id cannot reveal message counts.
	if h.db != nil {
		if _, err := repo.GetConversation(ctx, h.db, conversationID, uid); err == nil {
			if count, maxTS, err := repo.MessagesStats(ctx, h.db, conversationID); err == nil {
				if notModified(c, "messages", conversationID, count, maxTS) {
					return
				}
			}
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.msgSvc.ListPage(ctx, uid, conversationID, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}
