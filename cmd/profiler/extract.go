package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docutag/profiler/client"
)

func newExtractCommand(a *app) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Profile a company website and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing := a.initTracing(ctx)
			defer shutdownTracing()

			pipeline, err := a.newPipeline(nil)
			if err != nil {
				return err
			}

			profile, err := pipeline.Run(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if full {
				return enc.Encode(profile)
			}
			return enc.Encode(profile.Fields)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "print the whole profile instead of the field mapping")
	return cmd
}

func newRemoteCommand(a *app) *cobra.Command {
	var (
		server string
		token  string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "remote <url>",
		Short: "Ask a running profiler service to profile a company website",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(server, client.WithToken(token))

			extract := c.ExtractInfo
			if force {
				extract = c.Refresh
			}

			result, err := extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "profiler service base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the service")
	cmd.Flags().BoolVar(&force, "force", false, "ignore any stored profile")
	return cmd
}
