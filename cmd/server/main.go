// Command server runs the document chat API.
//
// @title          Document Chat RAG API
// @version        1.0
// @description    Upload documents, ask questions over them, and pay for answers in credits.
// @BasePath       /api/v1
// @schemes        http https
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/chunker"
	"github.com/tbourn/go-docchat-rag/internal/config"
	"github.com/tbourn/go-docchat-rag/internal/credits"
	httpapi "github.com/tbourn/go-docchat-rag/internal/http"
	"github.com/tbourn/go-docchat-rag/internal/http/handlers"
	"github.com/tbourn/go-docchat-rag/internal/ingest"
	"github.com/tbourn/go-docchat-rag/internal/llm"
	"github.com/tbourn/go-docchat-rag/internal/observability"
	"github.com/tbourn/go-docchat-rag/internal/rag"
	"github.com/tbourn/go-docchat-rag/internal/repo"
	"github.com/tbourn/go-docchat-rag/internal/search"
	"github.com/tbourn/go-docchat-rag/internal/services"
	"github.com/tbourn/go-docchat-rag/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version string

func main() {
	_ = config.LoadDotEnv()
	cfg := config.MustLoad()

	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
	log := sysutil.SetupLogger(sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty || sysutil.IsTruthy(os.Getenv("DEV")),
		Service: cfg.OTEL.ServiceName,
		Version: ver,
	})
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database open failed")
	}
	if err := repo.Instrument(db); err != nil {
		log.Fatal().Err(err).Msg("database instrumentation failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	cacheRepo, closeCache := cacheBackend(ctx, cfg, db, log)
	defer closeCache()
	store := cache.NewStore(cacheRepo)

	ledger := credits.NewLedger(repo.CreditRepository{DB: db})
	ledger.InitialCredit = cfg.InitialCredit
	ledger.Log = log.With().Str("component", "ledger").Logger()

	registry, err := providerRegistry(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("provider registry failed")
	}
	log.Info().Strs("providers", registry.Names()).Str("default", cfg.LLM.DefaultProvider).Msg("providers ready")

	orch := &rag.Orchestrator{
		Retriever:       retriever(cfg.Search, db),
		Providers:       registry,
		Cache:           store,
		Ledger:          ledger,
		Metrics:         observability.NewRAGMetrics(prometheus.DefaultRegisterer),
		DefaultProvider: cfg.LLM.DefaultProvider,
		CacheValidity:   cfg.Cache.Validity,
		ProviderTimeout: cfg.LLM.Timeout,
		Log:             log.With().Str("component", "rag").Logger(),
	}

	opts := chunker.DefaultOptions()
	opts.MinChunkSize = cfg.Chunk.MinSize
	opts.MaxChunkSize = cfg.Chunk.MaxSize
	opts.OverlapSize = cfg.Chunk.Overlap
	docSvc := services.NewDocumentService(db, opts)
	docSvc.IndexState = cache.NewIndexState(cacheRepo)
	docSvc.Log = log.With().Str("component", "documents").Logger()

	convSvc := services.NewConversationService(db, services.RepoAdapter{})
	convSvc.Providers = registry
	convSvc.DefaultProvider = cfg.LLM.DefaultProvider

	deps := handlers.Deps{
		DB:            db,
		Conversations: convSvc,
		Messages: &services.MessageService{
			DB:             db,
			RAG:            orch,
			MaxPromptRunes: cfg.MaxPromptRunes,
			IdempotencyTTL: cfg.IdempotencyTTL,
			Log:            log.With().Str("component", "messages").Logger(),
		},
		Documents: docSvc,
		Feedback:  &services.FeedbackService{DB: db, Cache: store, Log: log},
		Ask:       &services.AskService{RAG: orch, Documents: docSvc, MaxPromptRunes: cfg.MaxPromptRunes},
		Credits:   &services.CreditService{Ledger: ledger},
		Cache:     &services.CacheService{Store: store},
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if cfg.Ingest.WatchDir != "" {
		w := ingest.NewWatcher(cfg.Ingest.WatchDir, docSvc.WatchIndexer(cfg.Ingest.UserID), log.With().Str("component", "watcher").Logger())
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Str("dir", cfg.Ingest.WatchDir).Msg("watcher stopped")
			}
		}()
	}

	janitor := &services.Janitor{DB: db, Cache: store, Interval: cfg.IdempotencySweep, CacheInterval: cfg.Cache.SweepInterval, Log: log}
	go janitor.Run(ctx)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server exited")
}

// cacheBackend selects where cached answers live.
func cacheBackend(ctx context.Context, cfg config.Config, db *gorm.DB, log zerolog.Logger) (cache.Repository, func()) {
	noop := func() {}
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		rc := cache.DefaultRedisConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		client, err := cache.NewRedisClient(ctx, rc)
		if err != nil {
			log.Fatal().Err(err).Str("addr", rc.Addr).Msg("redis unavailable")
		}
		return cache.NewRedisRepository(client), func() { _ = client.Close() }
	case config.CacheBackendMemory:
		return cache.NewMemoryRepository(cfg.Cache.MemoryCapacity), noop
	default:
		return repo.CacheRepository{DB: db}, noop
	}
}

// providerRegistry builds the built-in providers, overlaid with the optional
// providers file.
func providerRegistry(cfg config.LLMConfig) (*llm.Registry, error) {
	cfgs := llm.DefaultProviderConfigs()
	if cfg.ProvidersFile != "" {
		extra, err := llm.LoadProviderFile(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		cfgs = llm.MergeConfigs(cfgs, extra)
	}
	return llm.BuildRegistry(cfgs, cfg.Timeout)
}

func retriever(cfg config.SearchConfig, db *gorm.DB) search.Retriever {
	if cfg.RemoteURL != "" {
		return search.SearcherRetriever{
			Searcher:   search.NewRemoteSearcher(search.RemoteConfig{URL: cfg.RemoteURL, APIKey: cfg.RemoteAPIKey}),
			Threshold:  cfg.Threshold,
			MatchCount: cfg.MatchCount,
		}
	}
	r := search.NewChunkRetriever(repo.ChunkStore{DB: db})
	r.Threshold = cfg.Threshold
	if cfg.MatchCount > 0 {
		r.MatchCount = cfg.MatchCount
	}
	return r
}
