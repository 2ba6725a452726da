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

	_ "github.com/noah-isme/dojo-api/api/swagger"
	"github.com/noah-isme/dojo-api/internal/handler"
	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/middleware"
	"github.com/noah-isme/dojo-api/internal/repository"
	"github.com/noah-isme/dojo-api/internal/service"
	"github.com/noah-isme/dojo-api/internal/store"
	"github.com/noah-isme/dojo-api/pkg/cache"
	"github.com/noah-isme/dojo-api/pkg/config"
	"github.com/noah-isme/dojo-api/pkg/database"
	"github.com/noah-isme/dojo-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/dojo-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/dojo-api/pkg/middleware/requestid"
)

// @title Dojo API
// @version 1.0.0
// @description Dojo membership core
// @BasePath /api/v1
// @schemes http
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	checks := map[string]handler.ReadinessCheck{}

	var db *sqlx.DB
	openDB := func() (*sqlx.DB, error) {
		if db != nil {
			return db, nil
		}
		conn, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		db = conn
		checks["postgres"] = func(ctx context.Context) error { return db.PingContext(ctx) }
		return db, nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	records, err := newStore(cfg, openDB)
	if err != nil {
		return err
	}
	provider, err := newIdentityProvider(cfg, openDB, logr.Named("identity"))
	if err != nil {
		return err
	}

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	var identityCache *service.CacheService
	if cfg.Identity.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("identity cache disabled, redis unavailable", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logr)
			defer repo.Close() //nolint:errcheck
			identityCache = service.NewCacheService(repo, metrics, cfg.Identity.CacheTTL, logr, true)
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}

	validate := validator.New()
	dojos := repository.NewDojoRepository(records)
	students := repository.NewStudentRepository(records)
	links := repository.NewRoleLinkRepository(records)
	requests := repository.NewJoinRequestRepository(records)
	exams := repository.NewExamRepository(records)
	events := repository.NewGraduationRepository(records)

	resolver := service.NewRoleResolver(service.RoleResolverDeps{
		Links:         links,
		Requests:      requests,
		Students:      students,
		Championships: repository.NewChampionshipRepository(records),
		Graduations:   events,
		Exams:         exams,
		Dojos:         dojos,
	}, identityCache, cfg.Identity.CacheTTL, metrics, logr.Named("resolver"))

	authSvc := service.NewAuthService(provider, resolver, validate, logr.Named("auth"))
	joinSvc := service.NewJoinRequestService(provider, requests, dojos, students, links, resolver, metrics, validate, logr.Named("join_requests"))
	enrollSvc := service.NewEnrollmentService(provider, dojos, students, links, metrics, validate, logr.Named("enrollment"),
		service.EnrollmentConfig{DefaultPassword: cfg.Enrollment.DefaultPassword})
	gradSvc := service.NewGraduationService(events, students, exams, resolver, cfg.Graduation.FinalizeWorkers, metrics, validate, logr.Named("graduations"))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	ops := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	if metrics != nil {
		r.GET("/metrics", ops.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Auth:          handler.NewAuthHandler(authSvc),
		JoinRequest:   handler.NewJoinRequestHandler(joinSvc),
		Enrollment:    handler.NewEnrollmentHandler(enrollSvc),
		Graduation:    handler.NewGraduationHandler(gradSvc),
		Authenticator: authSvc,
		Resolver:      resolver,
		Logger:        logr,
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env,
			"store", cfg.Store.Backend, "identity", cfg.Identity.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStore(cfg *config.Config, openDB func() (*sqlx.DB, error)) (store.Client, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := openDB()
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
		return store.NewPostgres(db), nil
	case config.BackendREST:
		if cfg.Store.RESTURL == "" {
			return nil, errors.New("STORE_REST_URL is required for the rest store backend")
		}
		return store.NewREST(store.RESTConfig{
			BaseURL: cfg.Store.RESTURL,
			APIKey:  cfg.Store.APIKey,
			Timeout: cfg.Store.Timeout,
			Tokens:  identity.AccessToken,
		}), nil
	case config.BackendMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
}

func newIdentityProvider(cfg *config.Config, openDB func() (*sqlx.DB, error), logr *zap.Logger) (identity.Provider, error) {
	switch cfg.Identity.Backend {
	case config.BackendLocal:
		db, err := openDB()
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		return identity.NewLocal(repository.NewCredentialRepository(db), identity.LocalConfig{
			Secret:     cfg.JWT.Secret,
			Issuer:     cfg.JWT.Issuer,
			AccessTTL:  cfg.JWT.Expiration,
			RefreshTTL: cfg.JWT.RefreshExpiration,
		}, logr), nil
	case config.BackendREST:
		if cfg.Identity.RESTURL == "" {
			return nil, errors.New("IDENTITY_REST_URL is required for the rest identity backend")
		}
		return identity.NewREST(identity.RESTConfig{
			BaseURL: cfg.Identity.RESTURL,
			APIKey:  cfg.Identity.APIKey,
			Timeout: cfg.Identity.Timeout,
		}), nil
	}
	return nil, fmt.Errorf("unknown IDENTITY_BACKEND %q", cfg.Identity.Backend)
}
