package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docutag/profiler"
	"github.com/docutag/profiler/config"
	"github.com/docutag/profiler/llm"
	"github.com/docutag/profiler/logger"
	"github.com/docutag/profiler/metrics"
	"github.com/docutag/profiler/tracing"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const serviceName = "profiler"

// app holds what every subcommand needs once flags are parsed
type app struct {
	configFile string
	debug      bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "profiler",
		Short:         "Build structured company profiles from company websites",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(a),
		newExtractCommand(a),
		newRemoteCommand(a),
		newMigrateCommand(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "profiler version %s\n", version)
			},
		},
	)

	return root
}

// init loads configuration and installs the global logger
func (a *app) init() error {
	cfg, err := config.Load(config.Options{File: a.configFile})
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	zap.ReplaceGlobals(log)

	a.cfg = cfg
	a.logger = log.With(zap.String("service", serviceName))
	return nil
}

// initTracing installs the OTLP exporter when an endpoint is configured.
// The returned function flushes pending spans.
func (a *app) initTracing(ctx context.Context) func() {
	if a.cfg.Tracing.Endpoint == "" {
		return func() {}
	}

	tp, err := tracing.Init(ctx, serviceName, a.cfg.Tracing)
	if err != nil {
		a.logger.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
		return func() {}
	}
	a.logger.Info("tracing initialized", zap.String("endpoint", a.cfg.Tracing.Endpoint))

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			a.logger.Error("error shutting down tracer", zap.Error(err))
		}
	}
}

// newPipeline builds the pipeline from configuration
func (a *app) newPipeline(m *metrics.Metrics) (*profiler.Pipeline, error) {
	completer, err := llm.New(a.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	return profiler.New(a.cfg.Pipeline, completer,
		profiler.WithLogger(a.logger),
		profiler.WithMetrics(m),
	), nil
}
