// Command curbctl manages Webex webhook subscriptions and seeds test orders.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/technosupport/ts-curbside/internal/config"
	"github.com/technosupport/ts-curbside/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("curbctl failed")
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "curbctl",
		Short:         "Operator tooling for the curbside pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logging.Init(cfg.Log.Level, "console")
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config/default.yaml", "path to the YAML config")

	cmd.AddCommand(newWebhookCmd(opts), newOrderCmd(opts))
	return cmd
}
