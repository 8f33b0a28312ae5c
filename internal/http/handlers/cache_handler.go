package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-rag/internal/cache"
)

// RemovedResponse reports how many cache entries an operation removed.
type RemovedResponse struct {
	Removed int64 `json:"removed"`
}

// failCache reports an unreachable cache backend as 503.
func failCache(c *gin.Context, err error) {
	var ue *cache.UnavailableError
	if errors.As(err, &ue) {
		fail(c, http.StatusServiceUnavailable, ErrCodeCacheUnavailable, err.Error())
		return
	}
	fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
}

// ClearCache godoc
// @ID          clearCache
// @Summary     Clear the answer cache
// @Tags        Cache
// @Produce     json
// @Success     200  {object}  handlers.RemovedResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Cache unavailable"
// @Router      /cache [delete]
func (h *Handlers) ClearCache(c *gin.Context) {
	n, err := h.cacheSv.Clear(c.Request.Context())
	if err != nil {
		failCache(c, err)
		return
	}
	ok(c, http.StatusOK, RemovedResponse{Removed: n})
}

// RemoveCacheEntry godoc
// @ID          removeCacheEntry
// @Summary     Remove one cached answer
// @Tags        Cache
// @Param       key  path  string  true  "Cache key"
// @Success     204  {string}  string  "No Content"
// @Failure     503  {object}  handlers.ErrorResponse  "Cache unavailable"
// @Router      /cache/{key} [delete]
func (h *Handlers) RemoveCacheEntry(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "key required")
		return
	}
	if err := h.cacheSv.Remove(c.Request.Context(), key); err != nil {
		failCache(c, err)
		return
	}
	noContent(c)
}

// PurgeCache godoc
// @ID          purgeCache
// @Summary     Purge expired cache entries
// @Tags        Cache
// @Produce     json
// @Success     200  {object}  handlers.RemovedResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Cache unavailable"
// @Router      /cache/purge [post]
func (h *Handlers) PurgeCache(c *gin.Context) {
	n, err := h.cacheSv.Purge(c.Request.Context())
	if err != nil {
		failCache(c, err)
		return
	}
	ok(c, http.StatusOK, RemovedResponse{Removed: n})
}

// CacheStats godoc
// @ID          cacheStats
// @Summary     Cache statistics
// @Tags        Cache
// @Produce     json
// @Success     200  {object}  cache.Stats
// @Failure     503  {object}  handlers.ErrorResponse  "Cache unavailable"
// @Router      /cache/stats [get]
func (h *Handlers) CacheStats(c *gin.Context) {
	st, err := h.cacheSv.Stats(c.Request.Context())
	if err != nil {
		failCache(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}
