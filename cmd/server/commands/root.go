package commands

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/securecall/internal/config"
)

var (
	env string
	cfg *config.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:           "securecall",
		Short:         "End-to-end encrypted call server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.InfoLevel)

			var err error
			cfg, err = config.Load(env)
			if err != nil {
				return err
			}
			if cfg.Mode == "debug" {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&env, "env", "", "config environment, reads config/config.<env>.yaml (default $CONFIG_ENV or dev)")

	root.AddCommand(serveCmd(), credentialCmd())
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("securecall failed")
		return err
	}
	return nil
}
