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

	"github.com/spf13/cobra"

	"github.com/cctl/boiler/internal/audio"
	"github.com/cctl/boiler/internal/cap"
	"github.com/cctl/boiler/internal/config"
	"github.com/cctl/boiler/internal/feed"
	"github.com/cctl/boiler/internal/filter"
	"github.com/cctl/boiler/internal/pipeline"
	"github.com/cctl/boiler/internal/store"
	"github.com/cctl/boiler/internal/upstream"
	"github.com/cctl/boiler/internal/web"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll loop and document server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrapLogger := newLogger("info")
	cfg := config.Load(configPath, bootstrapLogger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info().Str("pollUrl", cfg.PollURL).Str("alertsDir", cfg.AlertsDir).Msg("Boiler starting")

	st := store.New(cfg.AlertsDir, logger)
	if err := st.EnsureRoot(); err != nil {
		return err
	}

	params := audio.DefaultParams()
	params.BitrateKbps = cfg.Audio.BitrateKbps

	events := cap.LoadEventNames(cfg.DictsFile, logger)
	builder := cap.NewBuilder(events, cfg.AlertsURL(), cfg.Audio.StoreLocal, cfg.TrimEncoderPrefix, logger)

	metrics := pipeline.NewMetrics()
	pipe := pipeline.New(
		cfg,
		upstream.NewClient(cfg.PollURL, cfg.PollTimeout(), logger),
		filter.NewEngine(cfg.FiltersFile, logger),
		st,
		audio.NewNormalizer(cfg.AudioTimeout(), params, logger),
		builder,
		feed.NewSynthesizer(st, logger),
		metrics,
		logger,
	)

	var httpServer *http.Server
	if cfg.Web.Enabled {
		srv := web.New(cfg, st, metrics.Handler(), logger)
		httpServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Web.HostAddress, cfg.Web.HostPort),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", httpServer.Addr).Msg("Document server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Document server failed")
			}
		}()
	}

	// Ingestion and feed synthesis share this goroutine: the ticker never
	// overlaps cycles, which is the single-writer guarantee on the store.
	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	pipe.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("Document server shutdown was not clean")
				}
			}
			return nil
		case <-ticker.C:
			pipe.RunCycle(ctx)
		}
	}
}
