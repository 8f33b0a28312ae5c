package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/config"
	"github.com/tbourn/go-docchat-rag/internal/repo"
	"github.com/tbourn/go-docchat-rag/internal/search"
)

func TestCacheBackend(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open("file:main_cache?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))

	var cfg config.Config
	cfg.Cache.Backend = config.CacheBackendMemory
	cfg.Cache.MemoryCapacity = 2
	r, closeFn := cacheBackend(ctx, cfg, db, zerolog.Nop())
	defer closeFn()
	assert.IsType(t, &cache.MemoryRepository{}, r)

	cfg.Cache.Backend = config.CacheBackendDB
	r, _ = cacheBackend(ctx, cfg, db, zerolog.Nop())
	assert.IsType(t, repo.CacheRepository{}, r)

	mr := miniredis.RunT(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Redis.Addr = mr.Addr()
	r, closeFn = cacheBackend(ctx, cfg, db, zerolog.Nop())
	defer closeFn()
	assert.IsType(t, &cache.RedisRepository{}, r)

	store := cache.NewStore(r)
	require.NoError(t, store.CacheResponse(ctx, "k", "v", time.Minute))
	got, ok, err := store.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestProviderRegistry(t *testing.T) {
	reg, err := providerRegistry(config.LLMConfig{})
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "openai")
	assert.Contains(t, reg.Names(), "anthropic")

	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`providers:
  - name: local
    dialect: openai
    base_url: http://localhost:11434/v1
    default_model: llama3
`), 0o600))
	reg, err = providerRegistry(config.LLMConfig{ProvidersFile: path})
	require.NoError(t, err)
	_, err = reg.Get("local")
	assert.NoError(t, err)

	_, err = providerRegistry(config.LLMConfig{ProvidersFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestRetrieverSelection(t *testing.T) {
	local := retriever(config.SearchConfig{Threshold: 0.2, MatchCount: 3}, nil)
	cr, ok := local.(*search.ChunkRetriever)
	require.True(t, ok)
	assert.Equal(t, 0.2, cr.Threshold)
	assert.Equal(t, 3, cr.MatchCount)

	remote := retriever(config.SearchConfig{RemoteURL: "http://search.local/match", Threshold: 0.5, MatchCount: 4}, nil)
	sr, ok := remote.(search.SearcherRetriever)
	require.True(t, ok)
	assert.Equal(t, 4, sr.MatchCount)
}
