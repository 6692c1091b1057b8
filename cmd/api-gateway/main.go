package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-portal-api/api/swagger"
	"github.com/noah-isme/sma-portal-api/internal/bootstrap"
	"github.com/noah-isme/sma-portal-api/internal/handler"
	"github.com/noah-isme/sma-portal-api/internal/middleware"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/repository"
	"github.com/noah-isme/sma-portal-api/internal/service"
	"github.com/noah-isme/sma-portal-api/pkg/cache"
	"github.com/noah-isme/sma-portal-api/pkg/config"
	"github.com/noah-isme/sma-portal-api/pkg/database"
	"github.com/noah-isme/sma-portal-api/pkg/export"
	"github.com/noah-isme/sma-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-portal-api/pkg/notify"
	"github.com/noah-isme/sma-portal-api/pkg/storage"
)

// @title SMA Portal API
// @version 1.0.0
// @description Parent and student portal: parental consent and homework workflows
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Seed(ctx, db, cfg.Bootstrap, logr); err != nil {
		logr.Sugar().Fatalw("bootstrap seed failed", "error", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, 5*time.Minute, logr, redisClient != nil)

	dispatcher := notify.NewDispatcher(buildSenders(cfg.Notifications, logr), notify.DispatcherConfig{
		Workers:    cfg.Notifications.QueueWorkers,
		MaxRetries: cfg.Notifications.QueueRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
		Observer:   metrics,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	userRepo := repository.NewUserRepository(db)
	guardianRepo := repository.NewGuardianRepository(db)
	consentRepo := repository.NewConsentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	clock := service.SystemClock()
	pdfExporter := export.NewPDFExporter()

	authSvc := service.NewAuthService(userRepo, validate, logr, cfg.JWT)
	consentSvc := service.NewConsentService(consentRepo, guardianRepo, dispatcher, cacheSvc,
		pdfExporter, clock, validate, logr, metrics, cfg.Consent, cfg.School)
	homeworkSvc := service.NewHomeworkService(submissionRepo, assignmentRepo, guardianRepo, userRepo,
		dispatcher, cacheSvc, clock, validate, logr, metrics, cfg.Homework, cfg.School)

	attachmentStore, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		logr.Fatal("failed to prepare attachment storage", zap.Error(err))
	}
	signSecret := cfg.Storage.URLSecret
	if signSecret == "" {
		signSecret = cfg.JWT.Secret
	}
	homeworkSvc.WithAttachments(attachmentStore, storage.NewSignedURLSigner(signSecret, cfg.Storage.URLTTL))

	consentSvc.StartExpirySweep(ctx)

	authHandler := handler.NewAuthHandler(authSvc)
	consentHandler := handler.NewConsentHandler(consentSvc)
	homeworkHandler := handler.NewHomeworkHandler(homeworkSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("", middleware.JWT(authSvc))
	authed.GET("/auth/me", authHandler.Me)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	guardianOrStaff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleGuardian)

	consents := authed.Group("/consents")
	consents.GET("", guardianOrStaff, consentHandler.List)
	consents.GET("/summary", staff, consentHandler.Summary)
	consents.GET("/export", staff, consentHandler.Export)
	consents.POST("/sweep", staff, consentHandler.Sweep)
	consents.POST("", staff, consentHandler.Create)
	consents.GET("/:id", guardianOrStaff, consentHandler.Get)
	consents.GET("/:id/related", guardianOrStaff, consentHandler.Related)
	consents.GET("/:id/report", guardianOrStaff, consentHandler.Report)
	consents.POST("/:id/request", staff, consentHandler.Request)
	consents.POST("/:id/approve", guardianOrStaff, consentHandler.Approve)
	consents.POST("/:id/decline", guardianOrStaff, consentHandler.Decline)
	consents.POST("/:id/withdraw", guardianOrStaff, consentHandler.Withdraw)

	homework := authed.Group("/homework")
	homework.GET("/submissions", homeworkHandler.List)
	homework.POST("/submissions", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleStudent), homeworkHandler.Create)
	homework.GET("/submissions/:id", homeworkHandler.Get)
	homework.POST("/submissions/:id/submit", middleware.RequireRoles(models.RoleAdmin, models.RoleStudent), homeworkHandler.Submit)
	homework.POST("/submissions/:id/grade", staff, homeworkHandler.Grade)
	homework.PUT("/submissions/:id/grade", staff, homeworkHandler.AmendGrade)
	homework.POST("/submissions/:id/return", staff, homeworkHandler.Return)
	homework.POST("/submissions/:id/resubmit", middleware.RequireRoles(models.RoleAdmin, models.RoleStudent), homeworkHandler.Resubmit)
	homework.POST("/submissions/:id/extend", staff, homeworkHandler.Extend)
	homework.POST("/submissions/:id/attachments", middleware.RequireRoles(models.RoleAdmin, models.RoleStudent), homeworkHandler.Upload)
	homework.GET("/submissions/:id/attachments/:name", homeworkHandler.AttachmentLink)
	homework.DELETE("/submissions/:id/attachments/:name", middleware.RequireRoles(models.RoleAdmin, models.RoleStudent), homeworkHandler.RemoveAttachment)
	homework.GET("/history", homeworkHandler.History)
	homework.GET("/assignments/:id/stats", staff, homeworkHandler.Stats)

	// token carries its own authorization
	r.GET(cfg.APIPrefix+"/homework/files/:token", homeworkHandler.Download)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}

// buildSenders wires delivery channels from configuration. Without an enabled
// configuration everything routes to the console sender so development setups
// still see outbound traffic in the logs.
func buildSenders(cfg config.NotificationsConfig, logr *zap.Logger) map[models.NotificationChannel]notify.Sender {
	console := notify.NewConsoleSender(logr)
	senders := map[models.NotificationChannel]notify.Sender{
		models.ChannelEmail: console,
		models.ChannelSMS:   console,
	}
	if !cfg.Enabled {
		return senders
	}
	if cfg.SendgridKey != "" {
		senders[models.ChannelEmail] = notify.NewEmailSender(cfg.SendgridKey, cfg.FromName, cfg.FromEmail)
	}
	if cfg.SMSGatewayURL != "" {
		senders[models.ChannelSMS] = notify.NewSMSSender(cfg.SMSGatewayURL, cfg.SMSGatewayToken)
	}
	return senders
}
