package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sahl/claims-bridge/internal/config"
	"github.com/sahl/claims-bridge/internal/domain/agent"
	"github.com/sahl/claims-bridge/internal/domain/events"
	"github.com/sahl/claims-bridge/internal/domain/submission"
	"github.com/sahl/claims-bridge/internal/domain/terminology"
	"github.com/sahl/claims-bridge/internal/domain/workflow"
	"github.com/sahl/claims-bridge/internal/platform/db"
	"github.com/sahl/claims-bridge/internal/platform/eventbus"
	"github.com/sahl/claims-bridge/internal/platform/fhir"
	"github.com/sahl/claims-bridge/internal/platform/middleware"
	"github.com/sahl/claims-bridge/internal/platform/stage"
	"github.com/sahl/claims-bridge/internal/platform/websocket"
)

const (
	agentStaleTimeout = 90 * time.Second

	// Wide enough for a synchronous submit that burns its full retry
	// budget against a slow exchange.
	requestTimeout = 2 * time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "claims-bridge",
		Short: "NPHIES claims routing bridge",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claims bridge API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Event bus with live websocket fan-out
	hub := websocket.NewHub(logger)
	bus := eventbus.New(logger, hub)

	// Terminology catalog
	catalog := terminology.NewCatalog(cfg.TerminologyDir, logger)
	if err := catalog.Load(); err != nil {
		logger.Warn().Err(err).Str("dir", cfg.TerminologyDir).
			Msg("terminology catalog unavailable, codings will not be validated")
	}

	// Submission pipeline
	exchangeClient := submission.NewClient(cfg.NphiesTimeout(), cfg.NphiesMaxRetries, logger)
	submissionRepo := submission.NewRepoPG(pool)
	submissionSvc := submission.NewService(submissionRepo, exchangeClient, catalog, submission.Options{
		BaseURL:  cfg.NphiesBaseURL,
		MockMode: cfg.NphiesMockMode,
		Strict:   cfg.StrictTerminology,
	}, logger)

	// Stage services
	stageSvcs := stage.NewServices(cfg.NormalizationURL, cfg.PricingURL, cfg.SigningURL, cfg.StageTimeout(), logger)

	// Workflow orchestrator
	protocolValidator := fhir.NewValidator()
	workflowStore := workflow.NewStore()
	workflowSvc := workflow.NewService(workflowStore, bus, protocolValidator, catalog, submissionSvc, stageSvcs, workflow.Options{
		Workers:      cfg.WorkflowWorkers,
		StageTimeout: cfg.StageTimeout(),
		Strict:       cfg.StrictTerminology,
	}, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go func() {
		if err := workflowSvc.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error().Err(err).Msg("workflow worker pool stopped")
		}
	}()

	// Agent registry with background stale sweep
	registry := agent.NewRegistry(logger)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				registry.CheckStale(agentStaleTimeout)
			}
		}
	}()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID", "X-Facility-ID"},
	}))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(middleware.BodyLimit("1M", "10M"))

	// API group
	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Domain handlers
	workflow.NewHandler(workflowSvc).RegisterRoutes(api)
	terminology.NewHandler(catalog).RegisterRoutes(api)
	submission.NewHandler(submissionSvc).RegisterRoutes(api)
	agent.NewHandler(registry).RegisterRoutes(api)
	events.NewHandler(bus, logger).RegisterRoutes(api)
	websocket.NewHandler(hub).RegisterRoutes(api)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
