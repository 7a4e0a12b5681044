package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/quadcall/signaling/internal/v1/auth"
	"github.com/quadcall/signaling/internal/v1/config"
	"github.com/quadcall/signaling/internal/v1/health"
	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/middleware"
	"github.com/quadcall/signaling/internal/v1/ratelimit"
	"github.com/quadcall/signaling/internal/v1/tracing"
	"github.com/quadcall/signaling/internal/v1/transport"
	"github.com/quadcall/signaling/internal/v1/types"
)

func main() {
	flagHost := flag.String("host", "127.0.0.1", "listen address (HOST env overrides)")
	flagPort := flag.String("port", "8080", "listen port (PORT env overrides)")
	flag.Parse()

	// Load .env for local development; deployments rely on real env vars.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found, relying on environment variables")
	}

	cfg, err := config.Load(*flagHost, *flagPort)
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Token verifier ---
	var verifier types.TokenVerifier
	var readyChecker health.ReadyChecker
	switch cfg.AuthMode {
	case config.AuthModeJWKS:
		v, err := auth.NewValidator(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			slog.Error("Failed to create JWKS validator", "error", err)
			os.Exit(1)
		}
		verifier, readyChecker = v, v
		slog.Info("JWKS validator initialized", "domain", cfg.Auth0Domain)
	case config.AuthModeRemote:
		v := auth.NewRemoteKeyVerifier(cfg.AuthServerURL)
		verifier, readyChecker = v, v
		slog.Info("Remote key verifier initialized", "url", cfg.AuthServerURL)
	case config.AuthModeNone:
		slog.Warn("Authentication DISABLED - development only, DO NOT USE IN PRODUCTION")
		verifier = &auth.MockVerifier{}
	}

	// --- Optional Redis for the connect limiter ---
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			slog.Error("Redis unreachable, connect limiter falling back to memory store", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			slog.Info("Redis connected for connect limiting", "addr", cfg.RedisAddr)
		}
	}

	limiter, err := ratelimit.NewConnectionLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to create connect limiter", "error", err)
		os.Exit(1)
	}

	// --- Optional tracing ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(context.Background(), "signaling-relay", cfg.OtelCollector)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("Tracer shutdown failed", "error", err)
			}
		}()
		slog.Info("Tracing enabled", "collector", cfg.OtelCollector)
	}

	allowedOrigins := auth.SplitAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	hub := transport.NewHub(cfg, verifier, limiter, allowedOrigins)

	// --- HTTP surface ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware("signaling-relay"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(readyChecker, hub.Registry())
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	// Idle room sweeper.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go hub.RunSweeper(sweepCtx)

	go func() {
		slog.Info("Signaling relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down...")

	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Hub shutdown failed", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		}
	}

	slog.Info("Relay exiting")
}
