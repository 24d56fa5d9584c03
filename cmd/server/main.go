// Package main runs the live commerce studio HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/markethub/livecommerce/config"
	"github.com/markethub/livecommerce/internal/assistant"
	"github.com/markethub/livecommerce/internal/auth"
	"github.com/markethub/livecommerce/internal/catalog"
	"github.com/markethub/livecommerce/internal/history"
	"github.com/markethub/livecommerce/internal/metrics"
	"github.com/markethub/livecommerce/internal/middleware"
	"github.com/markethub/livecommerce/internal/models"
	"github.com/markethub/livecommerce/internal/realtime"
	"github.com/markethub/livecommerce/internal/studio"
	"github.com/markethub/livecommerce/pkg/database"
	"github.com/markethub/livecommerce/pkg/queue"
	"github.com/markethub/livecommerce/pkg/redis"
	"github.com/markethub/livecommerce/pkg/response"
	"github.com/markethub/livecommerce/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), 0, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	metrics.Register(prometheus.DefaultRegisterer, pool)

	// Report archive is optional; without it records still persist, downloads answer 503.
	var s3Client *storage.S3
	var presigner history.Presigner
	if cfg.AWS.Region != "" && cfg.AWS.ReportsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			presigner = s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	sfu := realtime.NewSFU(logger, realtime.ICEServers(cfg.WebRTC.ICEUrls))

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Catalog
	productRepo := catalog.NewRepository(pool)
	productHandler := catalog.NewHandler(productRepo, logger)

	// Session history (Postgres + report export queue)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordRepo := history.NewRepository(pool)
	historyStore := history.NewStore(cfg.Studio.HistoryLimit, recordRepo, jobQueue, logger)
	historyHandler := history.NewHandler(historyStore, presigner, logger)

	deps := studio.Deps{
		Media:   sfu,
		History: historyStore,
		Events:  hub,
		Catalog: productRepo,
		Logger:  logger,
	}
	if cfg.Studio.AssistantEnabled {
		wireAssistant(ctx, cfg.Gemini, &deps, logger)
	}
	manager := studio.NewManager(deps, studio.Options{
		TickInterval:      time.Duration(cfg.Studio.TickIntervalMs) * time.Millisecond,
		CaptureTimeout:    time.Duration(cfg.Studio.CaptureTimeoutSec) * time.Second,
		ResetStatsOnStart: cfg.Studio.ResetStatsOnStart,
		StoreBaseURL:      cfg.Studio.StoreBaseURL,
		OfferTag:          cfg.Studio.DefaultOfferTag,
	})
	studioHandler := studio.NewHandler(manager, productRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", metrics.Handler())

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required; sellers and admins own a studio each)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RoleSeller, models.RoleAdmin))
	{
		api.GET("/auth/me", authHandler.Me(middleware.ContextUserID))

		// Catalog
		api.GET("/products", productHandler.List)
		api.POST("/products", productHandler.Create)
		api.GET("/products/:id", productHandler.Get)
		api.PATCH("/products/:id/price", productHandler.UpdatePrice)
		api.DELETE("/products/:id", productHandler.Delete)

		// Studio session
		api.GET("/studio", studioHandler.Get)
		api.POST("/studio/start", studioHandler.Start)
		api.POST("/studio/stop", studioHandler.Stop)
		api.POST("/studio/destinations/:id/toggle", studioHandler.ToggleDestination)
		api.POST("/studio/destinations/:id/connect", studioHandler.ConnectDestination)
		api.POST("/studio/offer/feature", studioHandler.FeatureProduct)
		api.POST("/studio/offer/flash-sale", studioHandler.LaunchFlashSale)
		api.PATCH("/studio/offer/price", studioHandler.SetLivePrice)
		api.PATCH("/studio/offer/tag", studioHandler.SetOfferTag)
		api.POST("/studio/offer/sync-price", studioHandler.SyncLivePrice)
		api.GET("/studio/advice", studioHandler.Advice)

		// History
		api.GET("/studio/history", studioHandler.History)
		api.GET("/studio/history/summary", historyHandler.Summary)
		api.GET("/studio/history/:id", historyHandler.Get)
		api.GET("/studio/history/:id/report", historyHandler.ReportURL)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.ValidateIdentity, sfu, manager))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// Live broadcasts end here so each one still leaves a session record.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("studio shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// wireAssistant fills the AI collaborators. Without an API key the studio runs without them.
func wireAssistant(ctx context.Context, cfg config.GeminiConfig, deps *studio.Deps, logger *zap.Logger) {
	client, err := assistant.NewClient(ctx, cfg)
	if err != nil {
		logger.Warn("ai assistant disabled", zap.Error(err))
		return
	}
	deps.Scripts = assistant.NewScriptGenerator(client.Models, cfg.ScriptModel, logger)
	deps.Advisor = assistant.NewAdvisor(client.Models, cfg.AdviceModel, logger)
	deps.Assistant = assistant.NewLiveDialer(client, cfg, logger)
	logger.Info("ai assistant enabled",
		zap.String("script_model", cfg.ScriptModel),
		zap.String("live_model", cfg.LiveModel))
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
