// Command dwi-server starts the marketplace messaging HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/donewithit/server/internal/config"
	"github.com/donewithit/server/internal/limiter"
	"github.com/donewithit/server/internal/migrate"
	"github.com/donewithit/server/internal/presence"
	"github.com/donewithit/server/internal/push"
	"github.com/donewithit/server/internal/repository/postgres"
	httpserver "github.com/donewithit/server/internal/server/http"
	"github.com/donewithit/server/internal/server/ws"
	"github.com/donewithit/server/internal/service"
	"github.com/donewithit/server/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const sessionPurgeInterval = time.Minute

// main parses configuration, runs migrations, and starts the HTTP server.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db)
	messageRepo := postgres.NewMessageRepo(db)

	lim := limiter.NewPG(pool, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)

	// In-memory session and presence state
	sessions := session.NewManager(cfg.SessionTTL)
	registry := presence.NewRegistry()
	go purgeSessions(ctx, sessions, logger)

	// Push provider
	pushClient := push.NewClient(cfg.PushURL,
		push.WithMaxBatch(cfg.PushMaxBatch),
		push.WithTimeout(cfg.PushTimeout),
		push.WithLogger(logger),
	)

	// Live delivery hub
	hub := ws.NewHub(sessions, registry, logger)

	// Services
	authSvc := service.NewAuthService(userRepo, sessions, lim, logger)
	msgSvc := service.NewMessageService(userRepo, messageRepo, registry, hub, pushClient, logger)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpserver.New(authSvc, msgSvc, hub, logger).Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

// purgeSessions evicts expired session references until ctx is cancelled.
func purgeSessions(ctx context.Context, sessions *session.Manager, logger *zap.Logger) {
	t := time.NewTicker(sessionPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := sessions.PurgeExpired(); n > 0 {
				logger.Info("sessions purged", zap.Int("count", n))
			}
		}
	}
}
