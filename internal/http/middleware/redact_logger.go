package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxQueryLog caps the logged query string, in bytes.
const maxQueryLog = 1024

var (
	// UUIDs go first: the phone pattern would otherwise eat their digit runs.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures RedactingLogger. MaskHeaders are masked in
// addition to Authorization, Cookie and Set-Cookie; matching ignores case.
type RedactOptions struct {
	MaskHeaders []string
}

// Redact scrubs UUIDs, e-mail addresses and phone numbers from s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger attaches a request-scoped base logger (see LoggerFrom) and
// writes one access line per request. Bodies are never logged: they carry
// questions, answers and document text. The query string and headers are
// scrubbed with Redact, masked headers are replaced outright, and the caller
// id is scrubbed since callers may use an e-mail address as their id.
//
// The line is info for 2xx/3xx, warn for 4xx and error for 5xx or when a
// handler attached a Gin error.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{"authorization": {}, "cookie": {}, "set-cookie": {}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}
		base := log.With().Str("request_id", reqID).Logger()
		c.Set(loggerKey, &base)

		query := c.Request.URL.RawQuery
		if len(query) > maxQueryLog {
			query = query[:maxQueryLog] + "…"
		}
		headers := zerolog.Dict()
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers.Str(k, "[REDACTED]")
				continue
			}
			headers.Str(k, Redact(strings.Join(vv, ", ")))
		}

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = base.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = base.Warn()
		default:
			ev = base.Info()
		}

		uid, _ := c.Get(UserIDKey)
		for field, val := range routeIDs(c) {
			ev = ev.Str(field, val)
		}
		ev.Str("method", c.Request.Method).
			Str("path", route).
			Str("query", Redact(query)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("user_id", Redact(asString(uid))).
			Bool("replayed", IsReplay(c)).
			Dict("headers", headers).
			Msg("http_request")
	}
}
