package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voip-callkit/internal/audit"
	"voip-callkit/internal/auth"
	"voip-callkit/internal/callkit"
	"voip-callkit/internal/callui"
	"voip-callkit/internal/config"
	"voip-callkit/internal/httpapi"
	"voip-callkit/internal/metastore"
	"voip-callkit/pkg/logger"
	"voip-callkit/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// main owns db and rdb; the store, call history and call-UI stream share them.
	var db *sql.DB
	if cfg.NeedsPostgres() {
		db, err = utils.OpenPostgres(rootCtx, utils.PostgresConfig{
			DSN:             cfg.PostgresDSN(),
			MaxConns:        cfg.DB.MaxConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	store, history, err := openStore(rootCtx, cfg, db, rdb, log)
	if err != nil {
		log.Error("store init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	presenter, err := openPresenter(cfg, rdb, log)
	if err != nil {
		log.Error("callui init failed", "driver", cfg.CallUI.Driver, "err", err)
		os.Exit(1)
	}

	ctrl, err := callkit.New(callkit.Options{
		Store:     store,
		Presenter: presenter,
		Audit:     history,
		Display:   callui.DisplayConfig{Ringtone: cfg.CallUI.Ringtone, Icon: cfg.CallUI.Icon},
		Logger:    log,
	})
	if err != nil {
		log.Error("controller init failed", "err", err)
		os.Exit(1)
	}
	if _, err := ctrl.Restore(rootCtx); err != nil {
		log.Error("session restore failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Calls:          ctrl,
		Audit:          history,
		Auth:           authManager,
		PresentTimeout: cfg.CallUI.PresentTimeout,
	}
	registerRoutes(r, h, httpapi.NewEventStream(ctrl), auth.RequireAccessToken(authManager), readiness(db, rdb))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver, "callui", presenter.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	_ = ctrl.Close()
	// Queued call-UI commands still need rdb; the deferred closes run after this.
	if sp, ok := presenter.(*callui.StreamPresenter); ok {
		sp.Wait()
	}
}

// readiness pings the backing services that are configured.
func readiness(db *sql.DB, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if db != nil {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
		}
		if rdb != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
		}
		return nil
	}
}

// openStore picks the metadata store and the matching call history backend.
func openStore(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (metastore.Store, *audit.Service, error) {
	switch cfg.Store.Driver {
	case config.StoreRedis:
		st, err := metastore.NewRedisStore(metastore.RedisConfig{Client: rdb, KeyPrefix: cfg.Store.KeyPrefix, Logger: log})
		if err != nil {
			return nil, nil, err
		}
		return st, audit.NewService(audit.NewMemoryRepo()), nil

	case config.StorePostgres:
		st, err := metastore.NewPostgresStore(db, log)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		repo := audit.NewPostgresRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		return st, audit.NewService(repo), nil

	default:
		return metastore.NewMemoryStore(), audit.NewService(audit.NewMemoryRepo()), nil
	}
}

func openPresenter(cfg config.Config, rdb *redis.Client, log *slog.Logger) (callui.Presenter, error) {
	if cfg.CallUI.Driver == config.CallUIStream {
		return callui.NewStreamPresenter(callui.StreamConfig{
			Client: rdb,
			Stream: cfg.CallUI.Stream,
			MaxLen: 10000,
			Logger: log,
		})
	}
	return callui.NewNopPresenter(), nil
}
