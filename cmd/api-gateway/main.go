package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/prepmint-api/api/swagger"
	"github.com/noah-isme/prepmint-api/internal/collection"
	"github.com/noah-isme/prepmint-api/internal/collection/memory"
	"github.com/noah-isme/prepmint-api/internal/collection/postgres"
	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/internal/handler"
	internalmiddleware "github.com/noah-isme/prepmint-api/internal/middleware"
	"github.com/noah-isme/prepmint-api/internal/repository"
	"github.com/noah-isme/prepmint-api/internal/service"
	"github.com/noah-isme/prepmint-api/pkg/cache"
	"github.com/noah-isme/prepmint-api/pkg/config"
	"github.com/noah-isme/prepmint-api/pkg/database"
	"github.com/noah-isme/prepmint-api/pkg/jobs"
	"github.com/noah-isme/prepmint-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/prepmint-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/prepmint-api/pkg/middleware/requestid"
	"github.com/noah-isme/prepmint-api/pkg/storage"
)

// @title PrepMint API
// @version 1.0.0
// @description Collections, answer-sheet evaluation and gamification
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()
	healthChecks := map[string]handler.HealthCheck{"database": db.PingContext}

	profileCache, closeCache := buildProfileCache(ctx, cfg, metrics, logr, healthChecks)
	defer closeCache()

	backend, err := buildCollectionBackend(ctx, cfg, db, logr)
	if err != nil {
		logr.Fatal("failed to build collection backend", zap.Error(err))
	}
	collectionSvc := service.NewCollectionService(backend, metrics, logr.Named("collections"), service.CollectionConfig{
		Sources:         cfg.Collections.Sources,
		DefaultPageSize: cfg.Collections.DefaultPageSize,
		MaxPageSize:     cfg.Collections.MaxPageSize,
	})

	uploads, err := storage.NewLocalStorage(cfg.Evaluations.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare upload storage", zap.Error(err))
	}
	rules := evaluation.DefaultRules().Restrict(cfg.Evaluations.AllowedMIMEs)
	rules.MaxSize = cfg.Evaluations.MaxFileSizeBytes
	jobRepo := repository.NewEvaluationJobRepository(db)
	evaluationSvc := service.NewEvaluationService(
		jobRepo,
		uploads,
		storage.NewSignedURLSigner(cfg.JWT.Secret, cfg.Evaluations.FileURLTTL),
		validate,
		metrics,
		logr.Named("evaluations"),
		service.EvaluationConfig{
			Rules:           rules,
			DispatchURL:     cfg.Evaluations.DispatchURL,
			DispatchTimeout: cfg.Evaluations.DispatchTimeout,
			FilePathPrefix:  cfg.APIPrefix + "/evaluations/files/",
		},
	)

	var dispatchQueue *jobs.Queue
	if evaluationSvc.DispatchEnabled() {
		dispatchQueue = jobs.NewQueue("evaluation-dispatch", evaluationSvc.Dispatch, jobs.QueueConfig{
			Workers:    cfg.Evaluations.WorkerConcurrency,
			BufferSize: 256,
			MaxRetries: cfg.Evaluations.WorkerRetries,
			RetryDelay: 2 * time.Second,
			OnGiveUp:   evaluationSvc.GiveUp,
			Logger:     logr.Named("queue"),
		})
		dispatchQueue.Start(ctx)
		evaluationSvc.AttachQueue(dispatchQueue)
		go func() {
			resumed, err := evaluationSvc.ResumeQueued(ctx)
			if err != nil {
				logr.Warn("failed to resume queued evaluations", zap.Error(err))
				return
			}
			logr.Info("queued evaluations resumed", zap.Int("count", resumed))
		}()
	} else {
		logr.Info("evaluation dispatch disabled, jobs stay queued for an external grader")
	}

	gamificationSvc := service.NewGamificationService(
		repository.NewProfileRepository(db),
		jobRepo,
		profileCache,
		validate,
		metrics,
		logr.Named("gamification"),
		service.GamificationConfig{
			CompletionPoints:  cfg.Gamification.CompletionPoints,
			PerfectScoreBonus: cfg.Gamification.PerfectScoreBonus,
		},
	)
	sessionSvc := service.NewSessionService(profileCache, logr.Named("session"))
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWT.Expiration,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, cfg.APIPrefix+handler.StreamPath))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics, healthChecks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Collections:  handler.NewCollectionHandler(collectionSvc, validate, logr.Named("collections")),
		Evaluations:  handler.NewEvaluationHandler(evaluationSvc),
		Gamification: handler.NewGamificationHandler(gamificationSvc),
		Session:      handler.NewSessionHandler(sessionSvc),
		Tokens:       tokenSvc,
		Logger:       logr,
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "collection_backend", cfg.Collections.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	if dispatchQueue != nil {
		dispatchQueue.Stop()
	}
}

func buildCollectionBackend(ctx context.Context, cfg *config.Config, db *sqlx.DB, logr *zap.Logger) (collection.Backend, error) {
	switch cfg.Collections.Backend {
	case config.BackendMemory:
		opts := []memory.Option{memory.WithLogger(logr.Named("memory"))}
		for source, fields := range cfg.Collections.RequiredFields {
			opts = append(opts, memory.WithRequiredFields(source, fields...))
		}
		return memory.New(opts...), nil
	case config.BackendPostgres, "":
		backend := postgres.NewBackend(db, logr.Named("postgres"))
		listener := postgres.NewListener(database.DSN(cfg.Database), cfg.Collections.NotifyChannel, backend, logr.Named("listener"))
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("collection listener stopped", zap.Error(err))
			}
		}()
		return backend, nil
	}
	return nil, fmt.Errorf("unknown collection backend %q", cfg.Collections.Backend)
}

func buildProfileCache(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger, checks map[string]handler.HealthCheck) (service.ProfileCache, func()) {
	if cfg.Session.ProfileCacheBackend != config.CacheRedis {
		return service.NewMemoryProfileCache(cfg.Session.ProfileCacheTTL, metrics), func() {}
	}
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, falling back to in-memory profile cache", zap.Error(err))
		return service.NewMemoryProfileCache(cfg.Session.ProfileCacheTTL, metrics), func() {}
	}
	checks["redis"] = cache.Ping(client)
	repo := repository.NewCacheRepository(client, "prepmint:", logr.Named("cache"))
	shared := service.NewCacheService(repo, metrics, cfg.Session.ProfileCacheTTL, logr.Named("cache"))
	return service.NewRedisProfileCache(shared, cfg.Session.ProfileCacheTTL), func() { _ = repo.Close() }
}
