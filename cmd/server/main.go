/*
main.go - Application entry point

PURPOSE:
  Starts the practice engine server, or seeds a demo scenario.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve               Start the HTTP server
  seed <scenario>     Reset the database and load a demo scenario
  scenarios           List the demo scenarios

STARTUP SEQUENCE (serve):
  1. Load config (env + optional .env)
  2. Open the store: PostgreSQL for postgres:// URLs, SQLite otherwise
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start server with graceful shutdown

ENVIRONMENT:
  PORT          HTTP port (default 8080)
  ENV           development | production (default development)
  DATABASE_URL  postgres://... or sqlite:path (default sqlite:practice.db)
                Use "sqlite::memory:" for an in-memory database
  DB_MAX_CONNS  PostgreSQL pool size
  DB_MIN_CONNS  PostgreSQL idle connections
  CORS_ORIGINS  Comma-separated allowed origins
  AUTH_SECRET   HS256 key for bearer tokens; required outside development
  LOG_LEVEL     zerolog level (debug, info, warn, error)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Storage
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/practice-engine/api"
	"github.com/warp/practice-engine/clinic"
	"github.com/warp/practice-engine/config"
	"github.com/warp/practice-engine/store/postgres"
	"github.com/warp/practice-engine/store/sqlite"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Clinical practice budget and treatment engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(scenariosCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
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

func seedCmd() *cobra.Command {
	var doctorID int64
	cmd := &cobra.Command{
		Use:   "seed <scenario>",
		Short: "Reset the database and load a demo scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			h := api.NewHandler(store, logger)
			return h.RunScenario(cmd.Context(), clinic.DoctorID(doctorID), args[0])
		},
	}
	cmd.Flags().Int64Var(&doctorID, "doctor", 1, "doctor id that owns the seeded data")
	return cmd
}

func scenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the demo scenarios",
		Run: func(cmd *cobra.Command, args []string) {
			for _, s := range api.Scenarios() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", s.ID, s.Description)
			}
		},
	}
}

// =============================================================================
// WIRING
// =============================================================================

type backend interface {
	api.Backend
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (backend, error) {
	if cfg.IsPostgres() {
		store, err := postgres.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	}
	store, err := sqlite.New(cfg.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath(), err)
	}
	return store, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	store, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Bool("postgres", cfg.IsPostgres()).Msg("connected to database")

	if cfg.IsDev() && cfg.AuthSecret == "" {
		logger.Warn().Msgf("development mode: callers are identified by the %s header", api.DoctorHeader)
	}

	handler := api.NewHandler(store, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		AuthSecret:  []byte(cfg.AuthSecret),
		DevRoutes:   cfg.IsDev(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
