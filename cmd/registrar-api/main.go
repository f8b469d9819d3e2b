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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/sma-registrar-core/api/swagger"
	"github.com/noah-isme/sma-registrar-core/internal/handler"
	"github.com/noah-isme/sma-registrar-core/internal/middleware"
	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/internal/repository"
	"github.com/noah-isme/sma-registrar-core/internal/service"
	"github.com/noah-isme/sma-registrar-core/pkg/cache"
	"github.com/noah-isme/sma-registrar-core/pkg/clock"
	"github.com/noah-isme/sma-registrar-core/pkg/config"
	"github.com/noah-isme/sma-registrar-core/pkg/database"
	"github.com/noah-isme/sma-registrar-core/pkg/lock"
	"github.com/noah-isme/sma-registrar-core/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-registrar-core/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-registrar-core/pkg/middleware/requestid"
)

// @title SMA Registrar Core API
// @version 1.0.0
// @description Academic term registry, faculty capacity ledger and grade approval workflow
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
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	checks := map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)}

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Lock.Backend == config.LockBackendRedis {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		redisRepo := repository.NewCacheRepository(redisClient, logr)
		cacheRepo = redisRepo
		checks["redis"] = handler.PingFunc(redisRepo.Ping)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Backend == config.LockBackendRedis {
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.TTL, logr)
	}

	auditRepo := repository.NewAuditRepository(db)
	termSvc := service.NewTermService(repository.NewTermRepository(db), auditRepo, cacheSvc, locker, validate, logr)

	loadSvc := service.NewFacultyLoadService(service.FacultyLoadServiceParams{
		Loads:    repository.NewFacultyLoadRepository(db),
		Advisers: repository.NewAdviserRepository(db),
		Policies: repository.NewLoadPolicyRepository(db),
		Terms:    termSvc,
		Locker:   locker,
		Policy: models.LoadPolicy{
			MaxLoadsPerFaculty: cfg.Load.MaxPerFaculty,
			AllowedLoadTypes:   cfg.Load.AllowedTypes,
		},
		Audit:     auditRepo,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr,
	})

	wall := clock.Real{}
	requestSvc := service.NewGradeRequestService(repository.NewGradeRequestRepository(db), termSvc, auditRepo, wall, cfg.Grades.RequestMaxDays, validate, logr)
	gradeSvc := service.NewGradeService(service.GradeServiceParams{
		Records:     repository.NewGradeRecordRepository(db),
		Grants:      requestSvc,
		Terms:       termSvc,
		Audit:       auditRepo,
		Metrics:     metrics,
		Clock:       wall,
		PassingMark: cfg.Grades.PassingMark,
		Validator:   validate,
		Logger:      logr,
	})
	authSvc := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Terms:         handler.NewTermHandler(termSvc),
		Loads:         handler.NewLoadHandler(loadSvc),
		GradeRequests: handler.NewGradeRequestHandler(requestSvc),
		Grades:        handler.NewGradeHandler(gradeSvc),
		Audit:         auditRepo,
		Logger:        logr,
	}.Register(r.Group(cfg.APIPrefix), middleware.JWT(authSvc))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Expiry.Enabled {
		runner := service.NewExpiryService(termSvc, wall, metrics, logr).Runner(service.ExpiryConfig{
			Interval: cfg.Expiry.Interval,
			Timeout:  cfg.Expiry.Interval,
		})
		g.Go(func() error {
			runner.Start(gctx)
			<-gctx.Done()
			runner.Stop()
			return nil
		})
	}

	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logr.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
