package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's key for a retry-safe request.
// Asking a question spends credits, so a retried POST with the same key
// replays the recorded answer instead of paying for a second one.
const HeaderIdempotencyKey = "Idempotency-Key"

// AnonymousUserID is the caller used when a request names none.
const AnonymousUserID = "demo-user"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// CallerID returns the caller stored by UserIdentity, then the raw
// X-User-ID header, then AnonymousUserID.
func CallerID(c *gin.Context) string {
	if v, ok := c.Get(UserIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(HeaderUserID)); h != "" {
			return h
		}
	}
	return AnonymousUserID
}

// GetIdempotencyKey returns the key IdempotencyValidator accepted.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a still-valid reply is recorded for this
// request's caller, scope and key.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; zero means 200.
	MaxLen int
	// Pattern restricts the key's characters; nil means [A-Za-z0-9._~-:].
	Pattern *regexp.Regexp
	// Scope names what a key is unique within. The default is the route's
	// :id parameter, i.e. the conversation of POST /conversations/:id/messages.
	// Requests without a scope are validated but never replayed.
	Scope func(*gin.Context) string
}

// IdempotencyLookup reports whether a still-valid reply is recorded for
// (userID, scope, key) at now. Expiry is the lookup's concern.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key of unsafe requests and
// marks recorded ones as replays, which the rate limiter lets through free.
// Keys on GET, HEAD and OPTIONS are ignored. An invalid key is rejected with
// 400 bad_idempotency_key. A failing lookup is logged and treated as a miss;
// the handler's own idempotency record still prevents a double charge.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = func(c *gin.Context) string { return c.Param("id") }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		scope := scopeOf(c)
		if lookup == nil || scope == "" {
			c.Next()
			return
		}
		exists, err := lookup(c.Request.Context(), CallerID(c), scope, key, time.Now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		}
		if exists {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}
