// Package commands implements the echokit CLI.
package commands

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is stamped at build time with -ldflags.
var Version = "0.1.0-dev"

var (
	flagDataDir string
	flagBoard   string
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:           "echokit",
	Short:         "Voice interaction terminal firmware core",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Optional .env for development setups; missing file is fine.
		godotenv.Load()
		if flagDataDir == "" {
			flagDataDir = os.Getenv("ECHOKIT_DATA_DIR")
		}
		if flagDataDir == "" {
			flagDataDir = defaultDataDir()
		}
		if flagBoard == "" {
			flagBoard = os.Getenv("ECHOKIT_BOARD")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for persisted device state")
	rootCmd.PersistentFlags().StringVar(&flagBoard, "board", "", "board profile YAML (defaults to built-in profile)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose development logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() (*zap.Logger, error) {
	if flagDebug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".echokit"
	}
	return home + "/.echokit"
}
