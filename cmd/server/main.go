// Command mirrorsms-server starts the mailbox sync server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorsms/server/internal/config"
	"github.com/mirrorsms/server/internal/limiter"
	"github.com/mirrorsms/server/internal/migrate"
	"github.com/mirrorsms/server/internal/relay"
	"github.com/mirrorsms/server/internal/repository/postgres"
	httpserver "github.com/mirrorsms/server/internal/server/http"
	"github.com/mirrorsms/server/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the HTTP server.
func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config)")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}
	if *jwtKey != "" {
		cfg.Auth.JWTKey = *jwtKey
	}

	logger := newLogger(cfg.Logging.Level)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
	)

	if cfg.Auth.JWTKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key or auth.jwt_key)")
	}
	if cfg.Storage.DSN == "" {
		logger.Fatal("missing database dsn (--dsn or storage.dsn)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.Storage.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	accountRepo := postgres.NewAccountRepo(db)
	stateRepo := postgres.NewSyncStateRepo(db)
	mirrorRepo := postgres.NewMirrorRepo(db)
	queueRepo := postgres.NewQueueRepo(db)
	tokenRepo := postgres.NewTokenRepo(db)

	lim := limiter.NewPG(db.Pool, 15*time.Minute, 5, 15*time.Minute)

	// Services
	events := relay.New(0)
	authSvc := service.NewAuthService(accountRepo, tokenRepo, lim,
		[]byte(cfg.Auth.JWTKey), cfg.Auth.GetAccessTTL(), cfg.Auth.GetRefreshTTL())
	syncSvc := service.NewSyncService(stateRepo, mirrorRepo, events, cfg.Sync.GetStaleAfter())
	queueSvc := service.NewQueueService(queueRepo, mirrorRepo, events, cfg.Queue.MaxBodyLen)

	app := httpserver.New(authSvc, syncSvc, queueSvc, events, logger)

	// No global read/write deadlines: /api/events holds a websocket open
	// indefinitely. Per-write timeouts live in the websocket handler.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Routes(),
		ReadHeaderTimeout: cfg.Server.GetReadTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		events.CloseAll()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
