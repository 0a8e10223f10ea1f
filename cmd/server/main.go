// Package main runs the crop consultation HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cropconsult/backend/config"
	"github.com/cropconsult/backend/internal/auth"
	"github.com/cropconsult/backend/internal/inference"
	"github.com/cropconsult/backend/internal/middleware"
	"github.com/cropconsult/backend/internal/realtime"
	"github.com/cropconsult/backend/internal/risk"
	"github.com/cropconsult/backend/internal/sessions"
	"github.com/cropconsult/backend/internal/signaling"
	"github.com/cropconsult/backend/pkg/redis"
	"github.com/cropconsult/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// Redis is optional: without it the hub fans out locally only.
	var (
		redisPub realtime.RedisPublisher
		redisSub realtime.RedisSubscriber
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
			redisPub, redisSub = pubsub, pubsub
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Session registry and its idle sweep.
	registry := sessions.NewRegistry(logger)
	sweeper := sessions.NewSweeper(registry, cfg.Sessions.SweepIntervalSec, cfg.Sessions.IdleTimeoutSec, logger)

	// Realtime hub and signaling coordinator share the registry.
	hub := realtime.NewHub(logger, redisPub, redisSub)
	coordinator := signaling.NewCoordinator(
		registry,
		hub,
		cfg.WebRTC.NegotiationTimeoutSec,
		cfg.WebRTC.ICEUrls,
		cfg.WebRTC.TURNUrl,
		logger,
	)

	// A closing session releases its sockets and cancels its negotiations,
	// whether closed explicitly or by the idle sweep.
	registry.OnClose(hub.CloseSession)
	registry.OnClose(coordinator.ReleaseSession)

	sessionHandler := sessions.NewHandler(registry, hub, logger)
	inferenceClient := inference.NewClient(
		cfg.Inference.APIURL,
		cfg.Inference.APIKey,
		cfg.Inference.Model,
		cfg.Inference.TimeoutSec,
		logger,
	)
	inferenceHandler := inference.NewHandler(inferenceClient)
	riskHandler := risk.NewHandler()

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (rate limited, JWT required)
	api := router.Group("")
	api.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.DELETE("/sessions/:id", sessionHandler.Close)
		api.POST("/sessions/:id/recommendations", sessionHandler.AddRecommendation)
		api.GET("/sessions/:id/analytics", sessionHandler.Analytics)

		// Diagnosis support
		api.POST("/inference/diagnose", inferenceHandler.Diagnose)
		api.POST("/risk/assess", riskHandler.Assess)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", func(c *gin.Context) {
		realtime.ServeWs(hub, registry, coordinator, logger, jwtValidate)(c)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	sweeper.Start()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
