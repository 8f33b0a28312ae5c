// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST   /conversations               (create)
//   - GET    /conversations               (list, paginated, ETag support)
//   - PUT    /conversations/{id}/title    (rename)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/repo"
	"github.com/tbourn/go-docchat-rag/internal/services"
)

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// Title optionally sets the title; it is generated from the first
	// question when empty.
	Title string `json:"title" example:"Travel policy"`
	// Provider names the language model provider (default: server setting).
	Provider string `json:"provider" example:"openai"`
	// Model optionally overrides the provider's default model.
	Model string `json:"model" example:"gpt-4o-mini"`
	// DocumentIDs scopes answers to these documents (max 20).
	DocumentIDs []string `json:"document_ids" example:"3f0f6f2e-8a3b-4f55-9a55-9f1a3c1e2b10"`
}

// UpdateConversationTitleRequest is the JSON payload for renaming.
type UpdateConversationTitleRequest struct {
	// Title is the new name (1–255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Refund questions"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a conversation
// @Description Creates a conversation bound to a provider and a set of the user's documents.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateConversationRequest  true  "Create conversation payload"
//
// @Success     201  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or unknown provider"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	conv, err := h.convSvc.Create(c.Request.Context(), userID(c), services.NewConversation{
		Title:       strings.TrimSpace(req.Title),
		Provider:    req.Provider,
		Model:       req.Model,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of the user's conversations. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.db != nil {
		if count, maxTS, err := repo.ConversationsStats(ctx, h.db, uid); err == nil {
			if notModified(c, "conversations", uid, count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.convSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// UpdateConversationTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Description Updates the title of a conversation owned by the current user.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
// @Param       body       body    handlers.UpdateConversationTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateConversationTitle(c *gin.Context) {
	id, valid := pathUUID(c, "conversation")
	if !valid {
		return
	}

	var req UpdateConversationTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	if err := h.convSvc.UpdateTitle(c.Request.Context(), userID(c), id, req.Title); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
//
// @Success     200  {object} domain.Conversation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	id, valid := pathUUID(c, "conversation")
	if !valid {
		return
	}
	conv, err := h.convSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, conv)
}
