package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/backend/memidx"
	"github.com/fuseline/fuseline/internal/backend/redisidx"
	"github.com/fuseline/fuseline/internal/cache"
	"github.com/fuseline/fuseline/internal/config"
	dbRedis "github.com/fuseline/fuseline/internal/db/redis"
	"github.com/fuseline/fuseline/internal/domain"
	logpkg "github.com/fuseline/fuseline/internal/logger"
	"github.com/fuseline/fuseline/internal/metrics"
	chiTransport "github.com/fuseline/fuseline/internal/transport/chi"
	openaiTransport "github.com/fuseline/fuseline/internal/transport/openai"
	embeddinguc "github.com/fuseline/fuseline/internal/usecase/embedding"
	expanduc "github.com/fuseline/fuseline/internal/usecase/expand"
	fuseuc "github.com/fuseline/fuseline/internal/usecase/fuse"
	healthuc "github.com/fuseline/fuseline/internal/usecase/health"
	rerankuc "github.com/fuseline/fuseline/internal/usecase/rerank"
	searchuc "github.com/fuseline/fuseline/internal/usecase/search"
	"github.com/fuseline/fuseline/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting fuseline API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("backend_driver", cfg.Backend.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	ctx := context.Background()

	// Index backend: one adapter per retrieval signal.
	var (
		registry   *backend.Registry
		pinger     healthuc.DBPinger
		redisStore *dbRedis.Store
	)
	switch cfg.Backend.Driver {
	case "redis":
		redisStore, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			DB:       cfg.Database.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		defer redisStore.Close()

		if err := redisStore.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database")

		registry, err = redisRegistry(redisStore, cfg.Backend)
		pinger = redisStore
	case "memory":
		var mem *memidx.Store
		mem, err = memidx.NewStore(cfg.Backend.Dimensions)
		if err != nil {
			logger.Fatal("Failed to create memory store", zap.Error(err))
		}
		defer func() { _ = mem.Close() }()

		registry, err = backend.NewRegistry(
			memidx.NewVectorRetriever(mem),
			memidx.NewLexicalRetriever(mem),
			memidx.NewFilterRetriever(mem, cfg.Backend.TiebreakField),
		)
		pinger = mem
	default:
		logger.Fatal("Unknown backend driver", zap.String("driver", cfg.Backend.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to build retrieval registry", zap.Error(err))
	}

	// Embedder chain: OpenAI -> Cached -> Contextual
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	cached, err := embeddinguc.NewCached(baseEmbedder, cfg.Embedding.CacheSize, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding cache", zap.Error(err))
	}
	queryEmbedder := embeddinguc.NewContextual(cached, cfg.Embedding.MaxTurns, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Query expansion (optional stage, fail-open)
	var expandProvider expanduc.Provider
	if cfg.Expansion.Enabled {
		expandProvider = openaiTransport.NewExpander(&openaiTransport.Config{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Expansion.Model,
			Logger:  logger,
		}, cfg.Expansion.MaxVariants)
	}
	expandSvc := expanduc.New(expandProvider, expanduc.Config{
		Enabled:     cfg.Expansion.Enabled,
		Timeout:     time.Duration(cfg.Expansion.TimeoutMS) * time.Millisecond,
		MaxVariants: cfg.Expansion.MaxVariants,
	}, logger)

	// Fusion
	fuseSvc := fuseuc.New(cfg.Pipeline.RRFK, logger)

	// Re-ranking (optional stage, fail-open)
	var scorer rerankuc.Scorer
	if cfg.Rerank.Enabled && cfg.Rerank.External {
		scorer = openaiTransport.NewScorer(&openaiTransport.Config{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Rerank.Model,
			Logger:  logger,
		})
	}
	rerankSvc := rerankuc.New(scorer, rerankuc.Config{
		Enabled: cfg.Rerank.Enabled,
		Timeout: time.Duration(cfg.Rerank.TimeoutMS) * time.Millisecond,
	}, logger)

	// Response cache tiers. The Redis tiers ride on the same store as the
	// redis backend; the memory driver gets the in-process tier alone.
	var (
		multiTier   *cache.MultiTier
		invalidator *cache.Invalidator
	)
	if cfg.Cache.Enabled {
		l1, err := cache.NewL1(cfg.Cache.L1Size, time.Duration(cfg.Cache.L1TTLSec)*time.Second)
		if err != nil {
			logger.Fatal("Failed to create L1 cache", zap.Error(err))
		}
		tiers := []cache.Tier{l1}
		if redisStore != nil {
			tiers = append(tiers,
				cache.NewL2(redisStore, time.Duration(cfg.Cache.L2TTLSec)*time.Second),
				cache.NewL3(redisStore, time.Duration(cfg.Cache.L3TTLSec)*time.Second),
			)
		}
		multiTier = cache.NewMultiTier(logger, tiers...)
		logger.Info("Response cache enabled", zap.Int("tiers", len(tiers)))

		if cfg.Cache.Invalidation.Enabled {
			invalidator, err = cache.NewInvalidator(
				cfg.Cache.Invalidation.URL, cfg.Cache.Invalidation.Subject, multiTier, logger,
			)
			if err != nil {
				logger.Fatal("Failed to create cache invalidator", zap.Error(err))
			}
			if err := invalidator.Start(); err != nil {
				logger.Fatal("Failed to start cache invalidator", zap.Error(err))
			}
			defer invalidator.Close()
			logger.Info("Cache invalidation consumer started",
				zap.String("subject", cfg.Cache.Invalidation.Subject),
			)
		}
	}

	// Pass nil interface (not typed nil pointer!) when a component is off.
	// Go gotcha: (*MultiTier)(nil) wrapped in an interface != nil.
	var searchCache searchuc.Cache
	if multiTier != nil {
		searchCache = multiTier
	}
	var events healthuc.EventChecker
	if invalidator != nil {
		events = invalidator
	}

	// Orchestrator
	searchSvc := searchuc.New(registry, queryEmbedder, expandSvc, fuseSvc, rerankSvc, searchCache, searchuc.Config{
		SoftBudget:     time.Duration(cfg.Pipeline.SoftBudgetMS) * time.Millisecond,
		HardBudget:     time.Duration(cfg.Pipeline.HardBudgetMS) * time.Millisecond,
		SignalTimeout:  time.Duration(cfg.Pipeline.SignalTimeoutMS) * time.Millisecond,
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
	})

	// Health service
	healthSvc := healthuc.New(pinger, baseEmbedder, events)

	// Deployment-level default fusion weights
	weights := make(domain.Weights, len(cfg.Pipeline.Weights))
	for name, w := range cfg.Pipeline.Weights {
		weights[domain.Signal(name)] = w
	}

	server := chiTransport.NewServer(searchSvc, healthSvc, weights, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// redisRegistry builds the three FT.SEARCH adapters over one index.
func redisRegistry(store *dbRedis.Store, cfg config.BackendConfig) (*backend.Registry, error) {
	idxCfg := redisidx.Config{
		IndexName:     cfg.IndexName,
		KeyPrefix:     cfg.KeyPrefix,
		TiebreakField: cfg.TiebreakField,
	}

	vec, err := redisidx.NewVectorRetriever(store, idxCfg)
	if err != nil {
		return nil, fmt.Errorf("vector retriever: %w", err)
	}
	lex, err := redisidx.NewLexicalRetriever(store, idxCfg)
	if err != nil {
		return nil, fmt.Errorf("lexical retriever: %w", err)
	}
	fil, err := redisidx.NewFilterRetriever(store, idxCfg)
	if err != nil {
		return nil, fmt.Errorf("filter retriever: %w", err)
	}

	return backend.NewRegistry(vec, lex, fil)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
