// Package httpapi mounts the document-chat API on a gin engine: the
// middleware chain every request passes through, the operational endpoints
// and the versioned routes under the configured base path.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/config"
	_ "github.com/tbourn/go-docchat-rag/internal/http/docs" // registers the OpenAPI document
	"github.com/tbourn/go-docchat-rag/internal/http/handlers"
	"github.com/tbourn/go-docchat-rag/internal/http/middleware"
	"github.com/tbourn/go-docchat-rag/internal/repo"
)

// RegisterRoutes installs the middleware chain and every route on r.
//
// Tracing and the request id run first and recovery runs inside the access
// log. /metrics is mounted before the caller-scoped middleware, which is never
// applied to scrapes. The idempotency check precedes the limiter because a
// replayed answer costs no tokens.
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps handlers.Deps) {
	r.HandleMethodNotAllowed = true

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	if cfg.AnswerBurst > 0 {
		rl.WithAnswerTier(cfg.AnswerRPS, cfg.AnswerBurst, middleware.AnswerRoutes())
	}

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}}),
		middleware.Recovery(),
		limitBody(maxBody),
		middleware.Metrics(),
	)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Use(
		middleware.UserIdentity(),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idempotencyLookup(deps.DB)),
		rl.Handler(),
	)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

	// balances and transcripts are per caller and must not be cached
	base := strings.TrimSuffix(cfg.APIBasePath, "/")
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{
			base + "/credits", base + "/usage", base + "/conversations",
		},
		EnablePolicy: true,
	}))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", "/swagger"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if deps.MaxPromptRunes == 0 {
		deps.MaxPromptRunes = cfg.MaxPromptRunes
	}
	h := handlers.New(deps)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.PUT("/conversations/:id/title", h.UpdateConversationTitle)

		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.PostMessage)

		api.POST("/messages/:id/feedback", h.LeaveFeedback)

		api.POST("/documents", h.CreateDocument)
		api.GET("/documents", h.ListDocuments)
		api.GET("/documents/:id", h.GetDocument)
		api.GET("/documents/:id/chunks", h.ListDocumentChunks)
		api.DELETE("/documents/:id", h.DeleteDocument)

		api.POST("/answer", h.Answer)

		api.GET("/credits", h.GetCredits)
		api.POST("/credits", h.AddCredits)
		api.GET("/usage", h.GetUsage)

		api.DELETE("/cache", h.ClearCache)
		api.POST("/cache/purge", h.PurgeCache)
		api.GET("/cache/stats", h.CacheStats)
		api.DELETE("/cache/:key", h.RemoveCacheEntry)
	}
}

// idempotencyLookup reports whether a still-valid reply is recorded for the
// key. Without a database nothing is ever replayed.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match",
	}
	corsExpose = []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
)

// corsMiddleware allows every origin when allowed is empty and otherwise only
// the listed ones. Allow-Origin is also set on plain (non-CORS) requests so
// health checks and curl see the same header a browser would.
func corsMiddleware(allowed []string) []gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: corsExpose,
		MaxAge:        12 * time.Hour,
	}
	var echo gin.HandlerFunc
	if len(allowed) == 0 {
		conf.AllowAllOrigins = true
		echo = func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		}
	} else {
		conf.AllowOrigins = allowed
		set := make(map[string]struct{}, len(allowed))
		for _, o := range allowed {
			set[o] = struct{}{}
		}
		echo = func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := set[origin]; ok {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					c.Writer.Header().Add("Vary", "Origin")
				}
			}
			c.Next()
		}
	}
	return []gin.HandlerFunc{echo, cors.New(conf)}
}

// limitBody caps every request body at maxBytes; reading past it fails.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
