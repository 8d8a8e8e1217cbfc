package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"github.com/armadaproject/insights/internal/common"
	"github.com/armadaproject/insights/internal/common/config"
	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/insights/configuration"
	"github.com/armadaproject/insights/internal/insights/model"
)

const (
	configFlag        = "config"
	defaultConfigPath = "./config/insights"
	filterFlag        = "filter"
)

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "insights",
		Short:         "insights aggregates pull requests, commits and ci/cd job runs.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringSlice(
		configFlag,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	cmd.AddCommand(
		aggregateCmd(),
		explainCmd(),
		serveCmd(),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command) (configuration.InsightsConfig, error) {
	var c configuration.InsightsConfig
	overrides, err := cmd.Flags().GetStringSlice(configFlag)
	if err != nil {
		return c, err
	}
	if _, err := common.ReadConfig(&c, defaultConfigPath, overrides); err != nil {
		return c, err
	}
	if err := config.Validate(c); err != nil {
		return c, err
	}
	log.SetLevel(c.LogLevel)
	return c, nil
}

func addFilterFlag(flags *pflag.FlagSet) {
	flags.String(filterFlag, "", "Path to a yaml or json filter file")
}

// readFilter decodes a yaml or json filter file.
func readFilter(cmd *cobra.Command) (model.FilterSpec, error) {
	var spec model.FilterSpec
	path, err := cmd.Flags().GetString(filterFlag)
	if err != nil {
		return spec, err
	}
	if path == "" {
		return spec, errors.Errorf("--%s is required", filterFlag)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, errors.WithStack(err)
	}
	if err := yaml.UnmarshalStrict(data, &spec); err != nil {
		return spec, errors.Wrapf(err, "invalid filter file %s", path)
	}
	return spec, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (*insightscontext.Context, func()) {
	ctx, cancel := insightscontext.WithCancel(insightscontext.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(c)
		cancel()
	}
}
