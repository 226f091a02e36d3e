// @title authflow API
// @version 1.0
// @description Token lifecycle and refresh rotation service.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authflow/backend/internal/config"
	"github.com/authflow/backend/internal/db"
	"github.com/authflow/backend/internal/handler"
	"github.com/authflow/backend/internal/logging"
	"github.com/authflow/backend/internal/service"
	"github.com/authflow/backend/internal/session"
	"github.com/authflow/backend/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	pg := db.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	sessions, closeSessions, err := newSessionStore(ctx, cfg, pg)
	if err != nil {
		return err
	}
	defer closeSessions()

	fingerprint, err := session.FingerprinterFor(cfg.Auth.Fingerprint)
	if err != nil {
		return err
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte(cfg.Auth.AccessSecret),
		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		Issuer:        cfg.Auth.Issuer,
		Leeway:        cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}

	authService, err := service.NewAuthService(pg, sessions, issuer, service.Options{
		Fingerprint: fingerprint,
		BcryptCost:  cfg.Auth.BcryptCost,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.RouterConfig{
		Auth:           handler.NewAuthHandler(authService, logger),
		Tokens:         authService,
		AllowedOrigins: cfg.Server.ClientURLs,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening",
			slog.String("addr", srv.Addr),
			slog.String("session_store", cfg.Auth.SessionStore),
			slog.String("fingerprint", cfg.Auth.Fingerprint),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newSessionStore(ctx context.Context, cfg config.Config, pg *db.Postgres) (session.Store, func(), error) {
	switch cfg.Auth.SessionStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return session.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.Auth.RefreshTTL), func() { rdb.Close() }, nil
	case "memory":
		slog.Warn("using in-memory session store; sessions do not survive restarts")
		return session.NewMemoryStore(), func() {}, nil
	default:
		return pg, func() {}, nil
	}
}
