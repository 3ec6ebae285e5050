package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/chain"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/handler"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/metrics"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/middleware"
	"github.com/ahwlsqja/buddyguard-ops/internal/journal"
	"github.com/ahwlsqja/buddyguard-ops/internal/permit"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
	pkgredis "github.com/ahwlsqja/buddyguard-ops/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

// apiDeps are the dependencies the ops API reads from. redis may be nil.
type apiDeps struct {
	backend chain.Backend
	journal journal.Store
	redis   *goredis.Client
	metrics *metrics.Registry
}

func serveCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the ops API: health, metrics, transaction journal and permit verification",
		Action: func(c *cli.Context) error {
			cfg, logger := st.cfg, st.logger
			ctx := c.Context

			client, err := chain.Dial(ctx, cfg.Chain)
			if err != nil {
				return err
			}
			defer client.Close()

			store, err := journal.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			deps := apiDeps{backend: client, journal: store, metrics: metrics.New()}
			if cfg.Redis.Enabled {
				deps.redis = pkgredis.New(cfg.Redis.Client())
				defer deps.redis.Close()
			}

			if cfg.Environment == "production" {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := &http.Server{
				Addr:         cfg.Server.Addr(),
				Handler:      newRouter(logger, deps),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			logger.Info("server started",
				zap.String("addr", cfg.Server.Addr()),
				zap.String("environment", cfg.Environment),
				zap.String("journal", cfg.Journal.Driver),
			)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err, ok := <-errCh:
				if ok {
					logger.Error("failed to start server", zap.Error(err))
					return err
				}
				return nil
			case <-quit:
			case <-ctx.Done():
			}

			logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server forced to shutdown", zap.Error(err))
				return err
			}
			logger.Info("server exited")
			return nil
		},
	}
}

func newRouter(logger *zap.Logger, deps apiDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger, "/health", "/ready", "/metrics"))
	router.Use(deps.metrics.Middleware())

	checks := map[string]handler.Checker{
		"rpc": func(ctx context.Context) error {
			_, err := deps.backend.BlockNumber(ctx)
			return err
		},
		"journal": deps.journal.Ping,
	}
	if deps.redis != nil {
		checks["redis"] = pkgredis.Checker(deps.redis)
	}
	healthHandler := handler.NewHealthHandler(checks, logger)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(deps.metrics.Handler()))

	journalHandler := journal.NewHandler(journal.NewService(deps.journal, logger))
	permitHandler := permit.NewHandler(permit.NewService(eip712.NewEthVerifier(logger), deps.metrics, logger))

	v1 := router.Group("/api/v1")
	{
		journalHandler.RegisterRoutes(v1)
		permitHandler.RegisterRoutes(v1)
	}

	return router
}
