package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dev/bravebird/mar-export/pkg/config"
	"dev/bravebird/mar-export/pkg/logging"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any command runs
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "marexport",
	Short:         "marexport selects care homes in the eMAR portal in chunks and exports their MAR reports.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		logging.Setup(os.Stderr, loaded.LogLevel)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "The json5 config file. A .local sibling overrides it.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error. Overrides the config.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
