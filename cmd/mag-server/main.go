package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mag/gateway/internal/config"
	"github.com/mag/gateway/internal/domain/documentmanifest"
	"github.com/mag/gateway/internal/domain/pmir"
	"github.com/mag/gateway/internal/platform/auth"
	"github.com/mag/gateway/internal/platform/db"
	"github.com/mag/gateway/internal/platform/metrics"
	"github.com/mag/gateway/internal/platform/middleware"
	"github.com/mag/gateway/internal/platform/xds"
)

const cleanupInterval = time.Minute

func main() {
	rootCmd := &cobra.Command{
		Use:          "mag-server",
		Short:        "Mobile Access Gateway: MHD to XDS query translation and XUA token exchange",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(translateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.json>",
		Short: "Load submission sets into the local registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := documentmanifest.NewPGRegistry(pool, pmir.NewResolver(cfg.PatientEndpointURL))
			return seedFrom(ctx, cmd.OutOrStdout(), repo, f)
		},
	}
}

func seedFrom(ctx context.Context, w io.Writer, repo documentmanifest.SubmissionSetRepository, r io.Reader) error {
	count, err := documentmanifest.Seed(ctx, repo, r)
	if err != nil {
		return fmt.Errorf("seed failed after %d submission set(s): %w", count, err)
	}
	fmt.Fprintf(w, "Registered %d submission set(s).\n", count)
	return nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.HasDatabase() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
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

// translateCmd prints the registry query an ITI-66 search would produce,
// without contacting a registry.
func translateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "translate <query>",
		Short:   "Translate a DocumentManifest search query string into a registry query",
		Example: `  mag-server translate 'patient.identifier=urn:oid:1.2.3|PAT-1&status=current'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			translator, err := newTranslator(cfg, zerolog.Nop())
			if err != nil {
				return err
			}
			return translateQuery(cmd.OutOrStdout(), translator, args[0])
		},
	}
}

func translateQuery(w io.Writer, translator *documentmanifest.Translator, raw string) error {
	params, err := url.ParseQuery(raw)
	if err != nil {
		return fmt.Errorf("parsing query: %w", err)
	}
	criteria, err := documentmanifest.CriteriaFromQuery(params)
	if err != nil {
		return err
	}
	envelope, err := translator.Translate(criteria)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}

func newTranslator(cfg *config.Config, logger zerolog.Logger) (*documentmanifest.Translator, error) {
	mappings, err := cfg.ParseSchemeMappings()
	if err != nil {
		return nil, err
	}
	return documentmanifest.NewTranslator(
		xds.NewSchemeMapper(mappings),
		pmir.NewResolver(cfg.PatientEndpointURL),
		logger,
	), nil
}

// server bundles the wired echo instance with what must be stopped on
// shutdown.
type server struct {
	echo   *echo.Echo
	cancel context.CancelFunc
}

// newServer wires routes and middleware. pool may be nil, in which case the
// registry and code store are in-memory.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*server, error) {
	bg, cancel := context.WithCancel(context.Background())
	srv := &server{cancel: cancel}

	translator, err := newTranslator(cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	resolver := pmir.NewResolver(cfg.PatientEndpointURL)

	var (
		registry  xds.RegistryClient
		codeStore auth.CodeStore
		pinger    db.Pinger
	)
	if pool != nil {
		registry = documentmanifest.NewPGRegistry(pool, resolver)
		pgStore := auth.NewPGCodeStoreFromPool(pool)
		pgStore.StartCleanup(bg, cleanupInterval, func(err error) {
			logger.Error().Err(err).Msg("authorization code cleanup failed")
		})
		codeStore = pgStore
		pinger = pool
	} else {
		registry = xds.NewNopRegistry(logger)
		memStore := auth.NewInMemoryCodeStore()
		memStore.StartCleanup(bg, cleanupInterval)
		codeStore = memStore
	}

	var assertions *auth.JWTAssertionIssuer
	if cfg.AssertionSigningKey != "" {
		assertions, err = auth.NewJWTAssertionIssuer(cfg.AssertionIssuer, cfg.AssertionAudience,
			[]byte(cfg.AssertionSigningKey), cfg.AssertionLifetime)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("assertion issuer: %w", err)
		}
	}

	var authn *auth.AuthenticationService
	if cfg.AuthenticationEnabled() {
		verifier, err := auth.NewIDTokenVerifier(auth.IDTokenConfig{
			Issuer:     cfg.IDPIssuer,
			Audience:   cfg.IDPAudience,
			JWKSURL:    cfg.IDPJWKSURL,
			SigningKey: []byte(cfg.IDPSigningKey),
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("id token verifier: %w", err)
		}
		authn = auth.NewAuthenticationService(verifier, assertions, codeStore, cfg.AuthCodeTTL, logger)
	} else {
		logger.Warn().Msg("identity provider or assertion key not configured, /assertion disabled")
	}
	exchange := auth.NewTokenExchangeService(codeStore, cfg.TokenExpiresIn, logger)

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	if cfg.RateLimitRPS <= 0 {
		limiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	}
	limiter.StartSweep(bg)

	metrics.Init()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Instrument())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(limiter.Middleware())
	e.Use(middleware.Audit(logger))

	e.GET("/health", db.HealthHandler(pinger))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	fhirGroup := e.Group("/fhir")
	if cfg.RequireAccessToken {
		fhirGroup.Use(auth.AccessTokenMiddleware(assertions, auth.AuthSkipper))
	}
	svc := documentmanifest.NewService(translator, registry, logger)
	documentmanifest.NewHandler(svc, logger).RegisterRoutes(fhirGroup)

	auth.NewHandler(exchange, authn, logger).RegisterRoutes(e.Group(""))

	srv.echo = e
	return srv, nil
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.HasDatabase() {
		var err error
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if count > 0 {
			logger.Info().Int("applied", count).Msg("applied migrations")
		}
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory code store and no registry backend")
	}

	srv, err := newServer(cfg, logger, pool)
	if err != nil {
		return err
	}
	defer srv.cancel()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
