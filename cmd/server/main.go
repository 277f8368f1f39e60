package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"pipeline-cloud/backend/internal/api"
	"pipeline-cloud/backend/internal/auth"
	"pipeline-cloud/backend/internal/config"
	"pipeline-cloud/backend/internal/hub"
	"pipeline-cloud/backend/internal/logging"
	"pipeline-cloud/backend/internal/queue"
	"pipeline-cloud/backend/internal/repository"
	"pipeline-cloud/backend/internal/services"
	devtls "pipeline-cloud/backend/internal/tls"
	"pipeline-cloud/backend/internal/track"
	"pipeline-cloud/backend/internal/ws"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "server",
		Short: "Workflow run coordination backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New(cfg.Environment)
	logger.Info("starting workflow coordination service",
		"environment", cfg.Environment,
		"definitions", len(cfg.Workflows),
	)

	dbPool, err := initDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer dbPool.Close()
	logger.Info("database connected")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.Addr,
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping queue broker: %w", err)
	}
	logger.Info("queue broker connected", "queue", cfg.Queue.Name)

	runQueue, err := queue.NewRedisQueue(queue.RedisOptions{
		Client:           redisClient,
		Name:             cfg.Queue.Name,
		OperationTimeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("initialize queue: %w", err)
	}

	store := repository.NewPostgresRunStore(dbPool)
	subHub := hub.New(logger)
	service := services.NewWorkflowService(store, runQueue, subHub, logger)
	logger.Info("service layer initialized")

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("pipeline-cloud-backend"))

	tracker := track.New(cfg, logger)
	e.Use(tracker.Middleware())

	authz := auth.New(cfg, logger)
	apiServer := api.NewServer(service, cfg, logger)
	apiServer.RegisterRoutes(e.Group("/api"), authz)
	e.GET("/health", apiServer.HandleHealth)

	wsServer := ws.NewServer(subHub, logger)
	e.GET("/ws", wsServer.Handle)
	logger.Info("handlers mounted")

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// WriteTimeout stays unset for the long-lived websocket connections.
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) && len(cfg.TLS.Hostnames) > 0 {
				if err := devtls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
					logger.Error("failed to generate self-signed cert", "error", err)
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
