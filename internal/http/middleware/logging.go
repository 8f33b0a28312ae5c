package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// resourceFields maps the segment before a route parameter to the log field
// naming it, e.g. /conversations/:id becomes conversation_id.
var resourceFields = map[string]string{
	"conversations": "conversation_id",
	"documents":     "document_id",
	"messages":      "message_id",
	"cache":         "cache_key",
}

// RequestID reuses the caller's X-Request-ID or mints a UUID, echoes it on
// the response and stores it in the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Recovery turns a panic into the JSON 500 envelope, unless the handler had
// already started writing, and logs the stack with the request's fields.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			v, _ := c.Get(requestIDKey)
			rid := asString(v)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns a logger for the current request. On top of the base
// logger RedactingLogger attached (or the global one), it carries the caller
// id and the ids named by the matched route, so a line logged from a message
// handler names the conversation without the handler adding it.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	base := log.Logger
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			base = *lg
		}
	}
	ctx := base.With()
	if c.Request != nil {
		ctx = ctx.Ctx(c.Request.Context())
	}
	if uid, ok := c.Get(UserIDKey); ok {
		if s := asString(uid); s != "" {
			ctx = ctx.Str("user_id", Redact(s))
		}
	}
	for field, val := range routeIDs(c) {
		ctx = ctx.Str(field, val)
	}
	l := ctx.Logger()
	return &l
}

// routeIDs names the route parameters of the matched route, e.g.
// {"conversation_id": "..."} for /conversations/:id/messages.
func routeIDs(c *gin.Context) map[string]string {
	if len(c.Params) == 0 {
		return nil
	}
	segs := strings.Split(strings.Trim(c.FullPath(), "/"), "/")
	out := make(map[string]string, len(c.Params))
	for i, seg := range segs {
		if i == 0 || !strings.HasPrefix(seg, ":") {
			continue
		}
		field, ok := resourceFields[segs[i-1]]
		if !ok {
			continue
		}
		if v := c.Param(seg[1:]); v != "" {
			out[field] = v
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
