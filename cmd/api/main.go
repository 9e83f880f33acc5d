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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/geo-attendance-api/api/swagger"
	"github.com/noah-isme/geo-attendance-api/internal/handler"
	"github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	"github.com/noah-isme/geo-attendance-api/pkg/cache"
	"github.com/noah-isme/geo-attendance-api/pkg/config"
	"github.com/noah-isme/geo-attendance-api/pkg/database"
	"github.com/noah-isme/geo-attendance-api/pkg/jobs"
	"github.com/noah-isme/geo-attendance-api/pkg/logger"
	"github.com/noah-isme/geo-attendance-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/geo-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/geo-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

// @title Geo Attendance API
// @version 1.0.0
// @description Geofenced classroom attendance: sessions, check-ins, reports and backups
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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		logr.Info("report cache disabled")
	case err != nil:
		logr.Warn("redis unavailable, report cache disabled", zap.Error(err))
	}

	app, err := build(ctx, cfg, logr, db, redisClient)
	if err != nil {
		return err
	}
	defer app.queue.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type application struct {
	router *gin.Engine
	queue  *jobs.Queue
}

func build(ctx context.Context, cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client) (*application, error) {
	validate := validator.New()
	metrics := service.NewMetricsService()
	loc := cfg.Attendance.Location()

	students := repository.NewStudentRepository(db)
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	records := repository.NewAttendanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logr, redisClient != nil)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	sessionSvc := service.NewSessionService(sessions, validate, logr, metrics, service.SessionConfig{
		ClassID:             cfg.Attendance.ClassID,
		DefaultRadiusMeters: cfg.Attendance.GeofenceRadiusMeters,
		DefaultDuration:     cfg.Attendance.SessionDuration,
		MaxDuration:         cfg.Attendance.MaxSessionDuration,
		PublicBaseURL:       cfg.Attendance.PublicBaseURL,
	})
	admissionSvc := service.NewAdmissionService(students, sessions, records, cacheSvc, metrics, validate, logr, service.AdmissionConfig{
		Cohort:       cfg.Attendance.Cohort,
		TokenSources: cfg.Attendance.TokenSources,
	})
	reportSvc := service.NewReportService(students, sessions, records, cacheSvc, metrics, validate, logr, service.ReportConfig{
		ClassID:      cfg.Attendance.ClassID,
		Cohort:       cfg.Attendance.Cohort,
		Location:     loc,
		MaxRangeDays: cfg.Reports.MaxRangeDays,
		EditWindow:   cfg.Attendance.EditWindow,
		CacheTTL:     cfg.Reports.CacheTTL,
	})

	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(reportSvc, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, validate, logr, nil, nil)
	exportSvc.StartCleanup(ctx, cfg.Reports.CleanupInterval)

	queue := jobs.NewQueue("reports", jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 30 * time.Second,
		JobTimeout: 5 * time.Minute,
		Logger:     logr,
	})
	backupSvc := service.NewBackupService(reportSvc, files, mailer.NewSMTPMailer(cfg.SMTP), queue, metrics, validate, logr, service.BackupConfig{
		Days: cfg.Reports.BackupDays,
	})
	queue.Register(service.BackupJobType, backupSvc.HandleJob)
	queue.Start(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/health", "/ready", "/metrics"))

	metricsHandler := handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
		"postgres": db,
		"redis":    handler.PingerFunc(cacheRepo.Ping),
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routes{
		auth:       handler.NewAuthHandler(authSvc),
		sessions:   handler.NewSessionHandler(sessionSvc),
		attendance: handler.NewAttendanceHandler(admissionSvc),
		reports:    handler.NewReportHandler(reportSvc, exportSvc, backupSvc),
		jwt:        middleware.JWT(authSvc),
		limiter:    middleware.NewRateLimiter(cfg.Attendance.SubmitRatePerMinute, cfg.Attendance.SubmitBurst),
	})

	return &application{router: r, queue: queue}, nil
}

type routes struct {
	auth       *handler.AuthHandler
	sessions   *handler.SessionHandler
	attendance *handler.AttendanceHandler
	reports    *handler.ReportHandler
	jwt        gin.HandlerFunc
	limiter    *middleware.RateLimiter
}

func registerRoutes(api *gin.RouterGroup, h routes) {
	controller := middleware.RequireRoles(models.RoleController, models.RoleAdmin)

	api.POST("/auth/login", h.auth.Login)
	api.GET("/auth/me", h.jwt, h.auth.Me)

	api.GET("/sessions/active", h.sessions.Active)
	api.POST("/attendance", h.limiter.Middleware(), h.attendance.Submit)
	api.GET("/students/:enrollment", h.attendance.LookupStudent)
	api.GET("/reports/exports/download", h.reports.Download)

	secured := api.Group("", h.jwt, controller)
	secured.POST("/sessions", h.sessions.Start)
	secured.GET("/sessions", h.sessions.List)
	secured.POST("/sessions/:id/end", h.sessions.End)
	secured.GET("/sessions/:id/qr", h.sessions.QRCode)

	secured.GET("/reports/daily", h.reports.Daily)
	secured.GET("/reports/records", h.reports.Records)
	secured.POST("/reports/exports", h.reports.Export)
	secured.GET("/reports/roster", h.reports.Roster)
	secured.PUT("/reports/attendance", h.reports.ManualEdit)
	secured.POST("/reports/backup", h.reports.Backup)
}
