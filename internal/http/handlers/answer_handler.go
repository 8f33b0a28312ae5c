package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-rag/internal/rag"
)

// AnswerRequest asks one question over a set of documents without creating
// a conversation.
type AnswerRequest struct {
	Query           string   `json:"query" binding:"required" example:"What is the refund window?"`
	DocumentIDs     []string `json:"document_ids"`
	Provider        string   `json:"provider,omitempty" example:"anthropic"`
	Model           string   `json:"model,omitempty"`
	SystemPrompt    string   `json:"system_prompt,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	SkipCache       bool     `json:"skip_cache,omitempty"`
}

// Source is a document excerpt an answer was grounded on.
type Source struct {
	DocumentID    string  `json:"document_id"`
	ChunkID       string  `json:"chunk_id"`
	SequenceIndex int     `json:"sequence_index"`
	Similarity    float64 `json:"similarity"`
}

// AnswerResponse is a grounded answer with its metering.
type AnswerResponse struct {
	Content   string    `json:"content"`
	Usage     rag.Usage `json:"usage"`
	Sources   []Source  `json:"sources"`
	Truncated bool      `json:"truncated"`
}

// Answer godoc
// @ID          answer
// @Summary     Answer a question over documents
// @Description Runs retrieval, the response cache, the credit gate and the language model for one question.
// @Description Nothing is stored besides usage, credits and the cached answer.
// @Tags        Answers
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.AnswerRequest  true  "Question"
//
// @Success     200  {object}  handlers.AnswerResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or unknown provider"
// @Failure     402  {object}  handlers.ErrorResponse  "Insufficient credit"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Provider error"
// @Failure     504  {object}  handlers.ErrorResponse  "Provider timeout"
// @Router      /answer [post]
func (h *Handlers) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query required")
		return
	}
	query := sanitizeContent(req.Query)
	if query == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query required")
		return
	}

	ans, err := h.askSvc.Ask(c.Request.Context(), userID(c), rag.Request{
		Query:           query,
		DocumentIDs:     req.DocumentIDs,
		Provider:        strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:           strings.TrimSpace(req.Model),
		SystemPrompt:    req.SystemPrompt,
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
		SkipCache:       req.SkipCache,
	})
	if err != nil {
		failErr(c, err, ErrCodeAnswerFailed)
		return
	}

	sources := make([]Source, 0, len(ans.Matches))
	for _, m := range ans.Matches {
		sources = append(sources, Source{
			DocumentID:    m.DocumentID,
			ChunkID:       m.ID,
			SequenceIndex: m.SequenceIndex,
			Similarity:    m.Similarity,
		})
	}
	ok(c, http.StatusOK, AnswerResponse{
		Content:   ans.Content,
		Usage:     ans.Usage,
		Sources:   sources,
		Truncated: ans.Truncated,
	})
}
