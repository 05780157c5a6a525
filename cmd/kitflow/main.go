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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kitflow/kitflow/internal/config"
	"github.com/kitflow/kitflow/internal/domain/billing"
	"github.com/kitflow/kitflow/internal/domain/fulfillment"
	"github.com/kitflow/kitflow/internal/domain/intake"
	"github.com/kitflow/kitflow/internal/domain/record"
	"github.com/kitflow/kitflow/internal/domain/registrysync"
	"github.com/kitflow/kitflow/internal/domain/validation"
	"github.com/kitflow/kitflow/internal/platform/addrverify"
	"github.com/kitflow/kitflow/internal/platform/batch"
	"github.com/kitflow/kitflow/internal/platform/carrier"
	"github.com/kitflow/kitflow/internal/platform/clearinghouse"
	"github.com/kitflow/kitflow/internal/platform/db"
	"github.com/kitflow/kitflow/internal/platform/events"
	"github.com/kitflow/kitflow/internal/platform/middleware"
	"github.com/kitflow/kitflow/internal/platform/notify"
	"github.com/kitflow/kitflow/internal/platform/registry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kitflow",
		Short: "Intake and fulfillment pipeline server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(jobCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ops API server",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run pipeline stages",
	}

	runCmd := &cobra.Command{
		Use:   "run [stage]",
		Short: "Run one pipeline stage to completion",
		Long:  "Stages: cleansing, validation, cleanup, sync, upload, outreach, billing-submit, billing-reconcile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := newApp(cfg, pool, logger)
			job, ok := app.jobs[args[0]]
			if !ok {
				return fmt.Errorf("unknown stage %q", args[0])
			}
			sum, err := job(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("fetched=%d succeeded=%d failed=%d\n", sum.Fetched, sum.Succeeded, sum.Failed)
			return nil
		},
	}
	cmd.AddCommand(runCmd)
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// app wires stores, collaborators, and stages together. Stage jobs build a
// fresh store per shard scope so shards never share in-process state.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	intakes  record.IntakeStore
	orders   record.OrderStore
	charges  record.ChargeStore
	verifier addrverify.Verifier
	ingest   *intake.Service
	resolver *intake.Resolver
	events   *events.Manager
	jobs     map[string]func(context.Context) (batch.Summary, error)
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *app {
	timeout := time.Duration(cfg.CollaboratorTimeout) * time.Second

	verifier := addrverify.NewClient(cfg.AddressVerifyURL, cfg.AddressVerifyKey, timeout)
	registryClient := registry.NewHTTPClient(cfg.RegistryURL, cfg.RegistryKey, timeout)
	carrierClient := carrier.NewHTTPClient(cfg.CarrierURL, cfg.CarrierKey, timeout)
	clearinghouseClient := clearinghouse.NewHTTPClient(cfg.ClearinghouseURL, cfg.ClearinghouseKey, timeout)

	intakes := record.NewIntakeStorePG(pool)
	orders := record.NewOrderStorePG(pool)
	charges := record.NewChargeStorePG(pool)

	notifier := notify.NewService(notify.NewEngine(), notify.LogSender{Logger: logger}, notify.LogSender{Logger: logger}, logger)
	eventManager := events.NewManager(events.NewStorePG(pool), cfg.PracticeID, logger)

	cleanser := intake.NewCleanser(func() intake.CleanserDeps {
		return intake.CleanserDeps{Store: record.NewIntakeStorePG(pool), Verifier: verifier}
	}, logger, cfg.ValidationBatchCap, cfg.ShardSize)

	engine := validation.NewEngine(func() validation.EngineDeps {
		return validation.EngineDeps{Store: record.NewIntakeStorePG(pool), Verifier: verifier}
	}, validation.RuleConfig{
		CanonicalCarrier:     cfg.CanonicalCarrier,
		MinorBirthYearCutoff: cfg.MinorBirthYear,
	}, logger, cfg.ValidationBatchCap, cfg.ShardSize)

	cleanup := validation.NewCleanup(func() record.IntakeStore {
		return record.NewIntakeStorePG(pool)
	}, logger, cfg.DuplicateGroupCap, cfg.ShardSize)

	syncStage := registrysync.NewStage(func() registrysync.Deps {
		return registrysync.Deps{Store: record.NewIntakeStorePG(pool), Registry: registryClient}
	}, registrysync.Defaults{
		ProviderID: cfg.RegistryDefaultProvider,
		LocationID: cfg.RegistryDefaultLocation,
		InsurerID:  cfg.RegistryDefaultInsurer,
	}, cfg.SyncSkipMode, logger, cfg.SyncBatchCap, cfg.ShardSize)

	outreach := intake.NewOutreach(intakes, notifier, logger, cfg.ValidationBatchCap, cfg.ShardSize)

	rules := fulfillment.RoutingRules{
		UnitsPerClaimUnit:  cfg.UnitsPerClaimUnit,
		InHouseMaxQuantity: cfg.InHouseMaxQuantity,
		LowVolumeStates:    cfg.LowVolumeStates,
	}
	creator := fulfillment.NewCreator(intakes, orders, verifier, rules, logger)
	uploader := fulfillment.NewUploader(fulfillment.UploaderDeps{Orders: orders, Carrier: carrierClient}, logger, cfg.OrderUploadCap, cfg.OrderUploadBatchSize)

	submitter := billing.NewSubmitter(intakes, clearinghouseClient, logger, cfg.SyncBatchCap)
	reconciler := billing.NewReconciler(charges, clearinghouseClient, eventManager, creator, cfg.PracticeID, logger)

	jobs := map[string]func(context.Context) (batch.Summary, error){
		"cleansing":         cleanser.Run,
		"validation":        engine.Run,
		"cleanup":           cleanup.Run,
		"sync":              syncStage.Run,
		"upload":            uploader.Run,
		"outreach":          outreach.Run,
		"billing-reconcile": reconciler.Run,
		"billing-submit": func(ctx context.Context) (batch.Summary, error) {
			n, err := submitter.Run(ctx)
			return batch.Summary{Fetched: n, Succeeded: n}, err
		},
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		intakes:  intakes,
		orders:   orders,
		charges:  charges,
		verifier: verifier,
		ingest:   intake.NewService(intakes, notifier, logger),
		resolver: intake.NewResolver(intakes, cfg.EligibleCarriers, logger),
		events:   eventManager,
		jobs:     jobs,
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app := newApp(cfg, pool, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api/v1", middleware.APIKey(cfg.APIKey))

	intake.NewHandler(app.ingest, app.resolver).RegisterRoutes(api)
	events.NewHandler(app.events).RegisterRoutes(api.Group("/webhooks"))

	api.POST("/jobs/:name", func(c echo.Context) error {
		name := c.Param("name")
		job, ok := app.jobs[name]
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown stage %q", name))
		}
		sum, err := job(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, sum)
	})

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
