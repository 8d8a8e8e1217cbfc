package cmd

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/insights"
	"github.com/armadaproject/insights/internal/insights/server"
)

func aggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate --filter ./path/to/filter.yaml",
		Short: "Run an aggregation and print the buckets as json",
		Long: `Run an aggregation and print the buckets as json.

Example filter.yaml:

  family: pull_requests
  across: state
  stacks: [assignee]
  include:
    repository: [insights]
  ranges:
    pr_created:
      $gt: 1704067200
  page_size: 10
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			spec, err := readFilter(cmd)
			if err != nil {
				return err
			}
			ctx, cleanup := signalContext()
			defer cleanup()

			app, err := insights.New(ctx, config)
			if err != nil {
				return err
			}
			defer closeApp(app, shutdownTimeout)

			response, err := app.Aggregate(ctx, spec)
			if err != nil {
				return err
			}
			return printJson(cmd.OutOrStdout(), response)
		},
	}
	addFilterFlag(cmd.Flags())
	return cmd
}

func explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain --filter ./path/to/filter.yaml",
		Short: "Print the sql of the first query an aggregation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			spec, err := readFilter(cmd)
			if err != nil {
				return err
			}
			offline, err := cmd.Flags().GetBool("offline")
			if err != nil {
				return err
			}
			ctx, cleanup := signalContext()
			defer cleanup()

			var app *insights.App
			if offline {
				app = insights.NewOffline(config)
			} else if app, err = insights.New(ctx, config); err != nil {
				return err
			}
			defer closeApp(app, shutdownTimeout)

			query, err := app.Explain(ctx, spec)
			if err != nil {
				return err
			}
			return printJson(cmd.OutOrStdout(), server.ExplainResponse{Sql: query.Sql, Params: query.Args})
		},
	}
	addFilterFlag(cmd.Flags())
	cmd.Flags().Bool("offline", false, "Do not connect to postgres; profile and org unit filters are not resolved")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve aggregations and metrics over http",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cleanup := signalContext()
			defer cleanup()

			app, err := insights.New(ctx, config)
			if err != nil {
				return err
			}
			defer closeApp(app, shutdownTimeout)
			app.RegisterMetrics()
			return app.Serve(ctx)
		},
	}
}

const shutdownTimeout = 30 * time.Second

type closer interface {
	Close(ctx *insightscontext.Context) error
}

// closeApp waits at most timeout for app to close, independently of any command context.
func closeApp(app closer, timeout time.Duration) {
	ctx, cancel := insightscontext.WithTimeout(insightscontext.Background(), timeout)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		ctx.Log.WithError(err).Error("failed to shut down cleanly")
	}
}

func printJson(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
