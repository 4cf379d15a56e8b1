package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-ramp/internal/auth"
	"github.com/ksred/klear-ramp/internal/config"
	"github.com/ksred/klear-ramp/internal/database"
	"github.com/ksred/klear-ramp/internal/events"
	"github.com/ksred/klear-ramp/internal/ingest"
	"github.com/ksred/klear-ramp/internal/reconcile"
	"github.com/ksred/klear-ramp/internal/settlement"
	"github.com/ksred/klear-ramp/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupLogging configures pretty printing outside production and the
// global level from DEBUG
func setupLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main runs the order ingest API with graceful shutdown
func main() {
	configFile := flag.String("config", "", "optional config file (yaml, json, toml or .env)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			zlog.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("Failed to connect to NATS")
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		zlog.Info().Str("url", cfg.NATSURL).Msg("Publishing order events to NATS")
	}

	var fetcher reconcile.Fetcher = reconcile.Disabled{}
	if cfg.ReconcileEnabled() {
		fetcher = reconcile.NewHTTPFetcher(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout)
	} else {
		zlog.Warn().Msg("Provider credentials not configured, completed orders will not be reconciled")
	}

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(cfg.APIKey, cfg.APISecret)
	authHandlers := auth.NewGinHandlers(authService)

	processor := settlement.NewProcessor(settlement.NewDatabase(db), publisher)
	ingestService := ingest.NewService(processor, ingest.NewDatabase(db), fetcher, cfg.ProviderTimeout)
	ingestHandlers := ingest.NewGinHandlers(ingestService)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())
	if cfg.RateLimitEnabled {
		router.Use(middleware.RateLimit())
	}

	setupRoutes(router, cfg, authService, authHandlers, ingestHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give in-flight ingest calls time to commit
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.IngestTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
//   - Auth routes: public token endpoint
//   - Order and holding routes: JWT protected, owner taken from the token
//   - Operational routes: health and Prometheus metrics
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	ingestHandlers *ingest.GinHandlers,
) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Each request is bounded so a stuck transaction cannot pin a row lock.
		protected := v1.Group("", middleware.JWTAuth(authService), withTimeout(cfg.IngestTimeout))
		{
			protected.POST("/orders", ingestHandlers.CreateOrderHandler())
			protected.PUT("/orders", ingestHandlers.UpdateOrderHandler())
			protected.GET("/orders/:order_id", ingestHandlers.GetOrderHandler())
			protected.GET("/holdings", ingestHandlers.ListHoldingsHandler())
		}
	}
}

func withTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
