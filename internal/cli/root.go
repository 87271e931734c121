// Package cli implements the carbon-exchange command line.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rl1809/carbon-exchange/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// load reads the configuration and builds the process logger.
func (o *RootOptions) load() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := cfg.Log.NewLogger()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "carbon-exchange",
		Short: "Carbon credit ledger and marketplace",
		Long: `A ledger for verified carbon credits with an escrowed fixed-price marketplace.

Settings come from an optional TOML file (--config) and CARBON_* environment
variables, which take precedence.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a TOML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewFundCommand(opts))

	return cmd
}
