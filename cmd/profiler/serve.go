package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docutag/profiler/api"
	"github.com/docutag/profiler/db"
	"github.com/docutag/profiler/metrics"
	"github.com/docutag/profiler/storage"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("profiler service initializing", zap.String("version", version))

	shutdownTracing := a.initTracing(ctx)
	defer shutdownTracing()

	m := metrics.NewDefault()

	pipeline, err := a.newPipeline(m)
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithLogger(a.logger),
		api.WithMetrics(m),
	}

	if a.cfg.Database.DSN != "" {
		database, err := db.New(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := m.RegisterDB(database.DB()); err != nil {
			a.logger.Warn("failed to register database metrics", zap.Error(err))
		}
		opts = append(opts, api.WithRepository(database))
		a.logger.Info("profile storage enabled")
	} else {
		a.logger.Warn("no database configured, profiles will not be cached")
	}

	archive, err := storage.Open(ctx, a.cfg.Storage, a.cfg.S3)
	if err != nil {
		return err
	}
	opts = append(opts, api.WithArchive(archive))

	server := api.NewServer(a.cfg.Server, pipeline, opts...)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("profiler service starting",
			zap.String("addr", a.cfg.Server.Addr),
			zap.String("llm_provider", a.cfg.LLM.Provider),
			zap.Int("workers", a.cfg.Pipeline.Workers),
			zap.Int("relevant_cap", a.cfg.Pipeline.RelevantCap),
			zap.Bool("s3_archive", a.cfg.S3.Enabled()),
		)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("server stopped")
	return nil
}
