package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"curvefit/adapters/postgres"
	"curvefit/app"
	"curvefit/internal/config"
	"curvefit/internal/logging"
	"curvefit/internal/metrics"
	"curvefit/internal/registry"
)

// env is shared by every subcommand once the root PersistentPreRunE ran.
type env struct {
	cfg     *config.Config
	log     zerolog.Logger
	service *app.FitService
	db      *sqlx.DB
	out     *json.Encoder
}

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &env{}
	rootCmd := &cobra.Command{
		Use:           "fitctl",
		Short:         "Fit models to tabular data and rank candidate models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.db != nil {
				return e.db.Close()
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		newModelsCmd(e),
		newFitCmd(e),
		newBatchCmd(e),
		newCheckCmd(e),
		newTotalCmd(e),
		newRunCmd(e),
		newServeCmd(e),
		newMigrateCmd(e),
		newRunsCmd(e),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	e.cfg = cfg
	e.log = logging.New(cfg.Log.Level, cfg.Log.Pretty)

	var m *metrics.Prometheus
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if m, err = metrics.NewPrometheusMetrics(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		serveMetrics(cfg.Metrics.Addr, reg, e.log)
	}

	e.service = app.NewFitService(registry.Default(), cfg.Engine, e.log, m)
	if cfg.Database.URL != "" {
		// sqlx.Open defers the connection until the first fit is stored
		if e.db, err = sqlx.Open("postgres", cfg.Database.URL); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		e.service = e.service.WithStore(postgres.NewRunRepository(e.db))
	}
	e.out = json.NewEncoder(cmd.OutOrStdout())
	e.out.SetIndent("", "  ")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := http.ListenAndServe(addr, router); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
