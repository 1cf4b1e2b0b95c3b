// Command server runs the marketplace chat and notification backend: the
// REST API, the per-conversation WebSocket gateway, and the fan-out bus that
// bridges the two.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/campustrade/marketplace-chat/internal/bus"
	"github.com/campustrade/marketplace-chat/internal/config"
	httpapi "github.com/campustrade/marketplace-chat/internal/http"
	"github.com/campustrade/marketplace-chat/internal/observability"
	"github.com/campustrade/marketplace-chat/internal/repo"
	"github.com/campustrade/marketplace-chat/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Tracing (no-op unless enabled in config).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sdCtx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer sdCancel()
		if err := shutdownOTel(sdCtx); err != nil {
			log.Error().Err(err).Msg("otel shutdown")
		}
	}()

	// Storage.
	db, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// Fan-out bus.
	b, closeBus := initBus(ctx, cfg)
	defer closeBus()

	// HTTP surface.
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, b, nil, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("bus", cfg.BusBackend).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sdCtx, sdCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// setupSignalHandler cancels the returned context on SIGINT or SIGTERM.
func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal, initiating shutdown")
		cancel()
	}()
	return ctx, cancel
}

// initBus picks the configured fan-out backend. The returned closer also
// releases the Redis client when one was opened.
func initBus(ctx context.Context, cfg config.Config) (bus.Bus, func()) {
	if cfg.BusBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect to redis")
		}
		rb := bus.NewRedisBus(client, cfg.WSQueueSize)
		return rb, func() {
			_ = rb.Close()
			_ = client.Close()
		}
	}
	mb := bus.NewMemoryBus(cfg.WSQueueSize)
	return mb, func() { _ = mb.Close() }
}
