package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caseflow/caseflow/internal/config"
	"github.com/caseflow/caseflow/internal/domain/assignment"
	"github.com/caseflow/caseflow/internal/domain/consult"
	"github.com/caseflow/caseflow/internal/domain/directory"
	"github.com/caseflow/caseflow/internal/domain/transfer"
	"github.com/caseflow/caseflow/internal/domain/workload"
	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/platform/events"
	"github.com/caseflow/caseflow/internal/platform/middleware"
	"github.com/caseflow/caseflow/internal/platform/webhook"
	"github.com/caseflow/caseflow/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "caseflow-server",
		Short: "Consultation assignment and workload balancing API server",
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
		Short: "Start the API server",
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

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Write a forward migration that undoes the change instead.")
			return nil
		},
	})

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

	// Event bus. With REDIS_URL set, publishes go through Redis so every
	// instance sees every event; otherwise the in-process bus stands alone.
	bus := events.NewBus()
	var publisher events.Publisher = bus
	if cfg.RedisURL != "" {
		bridge, err := events.NewRedisBridge(cfg.RedisURL, bus, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure redis bridge")
		}
		if err := bridge.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer bridge.Close()
		publisher = bridge
		logger.Info().Msg("event bus bridged over redis")
	}

	// Repositories
	personRepo := directory.NewPersonRepoPG(pool)
	hierarchyRepo := assignment.NewHierarchyRepoPG(pool)
	caseRepo := consult.NewCaseRepoPG(pool)
	transferRepo := transfer.NewEventRepoPG(pool)

	// Directory
	directorySvc := directory.NewService(personRepo, publisher, logger)

	// Assignment. The tracker's rebind closure reaches the consult service
	// declared below; the variable exists before any event can fire.
	resolver := assignment.NewResolver(hierarchyRepo, personRepo, caseRepo, logger)
	assignSvc := assignment.NewService(hierarchyRepo, personRepo, resolver)

	var consultSvc *consult.Service
	tracker := assignment.NewTracker(bus, resolver, func(ctx context.Context, caseID uuid.UUID, role string, res *assignment.Resolution) error {
		return consultSvc.Rebind(ctx, caseID, role, res)
	}, logger)
	defer tracker.Stop()

	// Consult
	consultSvc = consult.NewService(caseRepo, resolver, tracker, publisher, pool, logger)
	if err := consultSvc.ResumeTracking(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to resume tracking open cases")
	}

	// Workload
	accountant := workload.NewAccountant(caseRepo, personRepo, directorySvc, bus, workload.DefaultConfig(), logger)
	accountant.Start()
	defer accountant.Stop()

	// Transfer
	coordinator := transfer.NewCoordinator(caseRepo, personRepo, transferRepo, tracker, publisher, pool, logger)

	// Webhooks
	webhookStore := webhook.NewMemoryStore()
	webhookManager := webhook.NewManager(webhookStore, bus, logger)
	webhookManager.Start()
	defer webhookManager.Stop()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Routes
	directory.NewHandler(directorySvc).RegisterRoutes(apiV1)
	assignment.NewHandler(assignSvc).RegisterRoutes(apiV1)
	consult.NewHandler(consultSvc).RegisterRoutes(apiV1)
	workload.NewHandler(caseRepo, personRepo, accountant).RegisterRoutes(apiV1)
	transfer.NewHandler(coordinator).RegisterRoutes(apiV1)
	webhook.NewHandler(webhookManager, webhookStore).RegisterRoutes(apiV1)

	// Live updates
	wsHandler := websocket.NewHandler(bus, logger)
	wsHandler.RegisterRoutes(apiV1)

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
