package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"retreat-quiz/internal/config"
	"retreat-quiz/internal/logging"
)

// options is shared by every subcommand; PersistentPreRunE fills cfg and log.
type options struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
}

// Execute runs the CLI.
func Execute() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "could not load .env file: %v\n", err)
	}
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "retreat-quiz",
		Short:        "Live retreat quiz with state shared across clients",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			opts.log = logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(
		newServeCmd(opts),
		newWatchCmd(opts),
		newAdminCmd(opts),
		newParticipantCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}
