package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-docchat-rag/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint. Clients branch on
// Code; Message is for people.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code    string `json:"code" example:"insufficient_credit"`
	Message string `json:"message" example:"insufficient credit: estimated cost $0.0120, available $0.00"`
	// Set for credit and provider failures
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries what a client needs to react to a failed answer
// without parsing Message: how much credit is missing, or which provider
// failed and how.
type ErrorDetails struct {
	Balance        *decimal.Decimal `json:"balance,omitempty" swaggertype:"string" example:"0.00"`
	Required       *decimal.Decimal `json:"required,omitempty" swaggertype:"string" example:"0.0120"`
	Provider       string           `json:"provider,omitempty" example:"openai"`
	UpstreamStatus int              `json:"upstream_status,omitempty" example:"529"`
}

// fail aborts with the error envelope.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, code, msg, nil)
}

// failWith aborts with the envelope and details. Server-side failures are
// logged through the request logger, which already names the caller and
// the route's ids.
func failWith(c *gin.Context, status int, code, msg string, details *ErrorDetails) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg)
		if details != nil && details.Provider != "" {
			ev = ev.Str("provider", details.Provider).Int("upstream_status", details.UpstreamStatus)
		}
		ev.Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Details:   details,
	})
}

// Fail writes the envelope for callers outside this package (router
// fallbacks).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// notModified sets a weak ETag derived from a collection's size and latest
// update and reports whether the request's If-None-Match already matches it,
// in which case a 304 has been written.
func notModified(c *gin.Context, kind, scope string, count int64, maxTS *time.Time) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
