package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-rag/internal/http/middleware"
)

// LeaveFeedbackRequest rates an assistant message: 1 is good, -1 is bad.
type LeaveFeedbackRequest struct {
	Value int `json:"value" binding:"required,oneof=-1 1" example:"-1"`
}

// LeaveFeedback godoc
// @ID          leaveFeedback
// @Summary     Leave feedback on a message
// @Description Rates an assistant message once per user. A -1 also evicts the cached
// @Description answer the message was served from, so the next identical question is
// @Description answered by the provider again; `evicted` reports whether that happened.
// @Tags        Feedback
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Assistant message ID"  format(uuid)
// @Param       body       body    handlers.LeaveFeedbackRequest true "Rating"
// @Success     201  {object} domain.Feedback
// @Failure     400  {object} handlers.ErrorResponse "Invalid id or value"
// @Failure     403  {object} handlers.ErrorResponse "Not the caller's assistant message"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     409  {object} handlers.ErrorResponse "Already rated"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/{id}/feedback [post]
func (h *Handlers) LeaveFeedback(c *gin.Context) {
	msgID, valid := pathUUID(c, "message")
	if !valid {
		return
	}
	var req LeaveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "value must be -1 or 1")
		return
	}

	fb, err := h.fbSvc.Leave(c.Request.Context(), userID(c), msgID, req.Value)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	if fb.Evicted {
		middleware.LoggerFrom(c).Info().Msg("cached answer evicted after negative feedback")
	}
	ok(c, http.StatusCreated, fb)
}
