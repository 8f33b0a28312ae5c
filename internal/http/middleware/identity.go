package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the Gin context key holding the caller's user id.
const UserIDKey = "userID"

// HeaderUserID carries the caller's identity. Authentication is out of scope
// for this service; a gateway in front of it is expected to set the header.
const HeaderUserID = "X-User-ID"

// maxUserIDLen matches the width of the user_id columns.
const maxUserIDLen = 64

// UserIdentity copies X-User-ID into the context under UserIDKey so the rate
// limiter, idempotency lookup and loggers key on the same identity as the
// handlers. An identity already set upstream is left alone. Over-long ids
// are rejected with 400.
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, ok := c.Get(UserIDKey); ok {
			if s, _ := v.(string); s != "" {
				c.Next()
				return
			}
		}
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if len(uid) > maxUserIDLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_request",
				"message": "X-User-ID too long",
			})
			return
		}
		if uid != "" {
			c.Set(UserIDKey, uid)
		}
		c.Next()
	}
}
