package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
//
// Most responses of this API are scoped to the caller named by X-User-ID, so
// they always carry Vary: X-User-ID; a shared cache keyed on URL alone would
// otherwise hand one user's conversation list to another. Paths under one of
// NoStorePrefixes (balances, usage, transcripts) are additionally marked
// no-store.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	EnableHSTS bool
	HSTSMaxAge time.Duration
	// NoStore marks every response no-store.
	NoStore bool
	// NoStorePrefixes marks responses under these URL path prefixes no-store.
	NoStorePrefixes []string
	// EnablePolicy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

// SecurityHeaders hardens API responses. CSP is left out since nothing here
// serves HTML except Swagger UI.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore || hasPrefix(c.Request.URL.Path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store, private")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if c.GetHeader(HeaderUserID) != "" {
			appendToken(h, "Vary", HeaderUserID)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get("X-Request-ID") != "" {
			appendToken(h, "Access-Control-Expose-Headers", "X-Request-ID")
		}

		c.Next()
	}
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// appendToken adds tok to a comma-separated header unless already listed.
func appendToken(h http.Header, name, tok string) {
	cur := h.Get(name)
	if cur == "" {
		h.Set(name, tok)
		return
	}
	for _, part := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(part), tok) {
			return
		}
	}
	h.Set(name, cur+", "+tok)
}

// isHTTPS reports whether the request arrived over TLS, directly or through
// a proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
