package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/discharge-predict/internal/classifier"
	"github.com/ehr/discharge-predict/internal/config"
	"github.com/ehr/discharge-predict/internal/domain/discharge"
	"github.com/ehr/discharge-predict/internal/domain/prediction"
	"github.com/ehr/discharge-predict/internal/platform/auth"
	"github.com/ehr/discharge-predict/internal/platform/db"
	"github.com/ehr/discharge-predict/internal/platform/fhir"
	"github.com/ehr/discharge-predict/internal/platform/middleware"
	"github.com/ehr/discharge-predict/migrations"
)

// Set with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "discharge-predict",
		Short:         "Discharge summary lookup and readmission prediction",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(shellCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger writes JSON to w, or console output in development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the discharge document store schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			migrator, closeFn, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			migrator, closeFn, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationsFS(dir)), pool.Close, nil
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for API_TOKEN",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.AuthEnabled() {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}
			tok, err := auth.IssueToken([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "operator", "Token subject")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Store DocumentReferences (or a Bundle of them) in the local document store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			refs, err := parseImport(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := discharge.NewService(discharge.NewDocumentRepoPG(pool), cfg.SummaryLimit)
			err = db.InTx(ctx, pool, func(ctx context.Context) error {
				for _, ref := range refs {
					d, err := svc.Import(ctx, ref)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "imported DocumentReference/%s for patient %s\n", d.FHIRID, d.PatientID)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			return nil
		},
	}
}

// parseImport accepts a single DocumentReference or a Bundle and returns the
// DocumentReferences it carries.
func parseImport(data []byte) ([]fhir.DocumentReference, error) {
	var head fhir.Resource
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}

	switch head.ResourceType {
	case "DocumentReference":
		var ref fhir.DocumentReference
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, fmt.Errorf("decode DocumentReference: %w", err)
		}
		return []fhir.DocumentReference{ref}, nil
	case "Bundle":
		var bundle fhir.Bundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("decode Bundle: %w", err)
		}
		var refs []fhir.DocumentReference
		for _, raw := range bundle.Matches("DocumentReference") {
			var ref fhir.DocumentReference
			if err := json.Unmarshal(raw, &ref); err != nil {
				return nil, fmt.Errorf("decode DocumentReference: %w", err)
			}
			refs = append(refs, ref)
		}
		if len(refs) == 0 {
			return nil, fmt.Errorf("bundle has no DocumentReference entries")
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("%w: %q", fhir.ErrUnexpectedResource, head.ResourceType)
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ModelPath).Msg("failed to load classifier model")
	}
	predSvc := prediction.NewService(model)

	ctx := context.Background()
	var (
		repo   discharge.SummaryRepository
		pinger db.Pinger
	)
	switch cfg.DischargeSource {
	case config.SourcePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		repo = discharge.NewDocumentRepoPG(pool)
		pinger = pool
	default:
		client := fhir.NewClient(cfg.FHIRBaseURL,
			fhir.WithBearerToken(cfg.FHIRToken),
			fhir.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		)
		repo = discharge.NewFHIRRepo(client, logger)
		logger.Info().Str("fhir_base_url", client.BaseURL()).Msg("using FHIR discharge source")
	}

	e := newServer(cfg, logger, discharge.NewService(repo, cfg.SummaryLimit), predSvc, pinger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s != syscall.SIGHUP {
			break
		}
		if err := predSvc.Reload(cfg.ModelPath); err != nil {
			logger.Error().Err(err).Str("path", cfg.ModelPath).Msg("model reload failed, keeping current model")
			continue
		}
		logger.Info().Str("path", cfg.ModelPath).Msg("model reloaded")
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the middleware chain and routes. pinger is nil unless the
// Postgres source is in use.
func newServer(cfg *config.Config, logger zerolog.Logger, dischargeSvc *discharge.Service, predSvc *prediction.Service, pinger db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	if len(cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		}))
	}
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.AuthEnabled() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
			Issuer:     cfg.AuthIssuer,
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pinger != nil {
		e.GET("/health/db", db.HealthHandler(pinger))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.RateLimitBurst
	limit := middleware.RateLimit(rateLimitCfg)
	timeout := middleware.RequestTimeout(cfg.RequestTimeout)

	api := e.Group("", limit, timeout)
	fhirGroup := e.Group("/fhir", limit, timeout)

	discharge.NewHandler(dischargeSvc).RegisterRoutes(api, fhirGroup)
	prediction.NewHandler(predSvc).RegisterRoutes(api)

	return e
}
