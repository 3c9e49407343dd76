package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mExOms/quantree/internal/config"
	"github.com/mExOms/quantree/internal/monitor"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	settings   = config.New()
	cfg        *config.Config
	logCloser  io.Closer

	rootCmd = &cobra.Command{
		Use:           "quantree",
		Short:         "Evaluate, optimize and stress-test strategy decision trees",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				settings.SetConfigFile(configPath)
				if err := settings.ReadInConfig(); err != nil {
					return err
				}
			}
			loaded, err := config.Decode(settings)
			if err != nil {
				return err
			}
			cfg = loaded
			logCloser, err = monitor.ConfigureLogging(cfg.Log)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (YAML, JSON or TOML)")
	flags.String("data", "", "Price directory with one <TICKER>.csv per ticker")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	bind(settings, "data.dir", flags.Lookup("data"))
	bind(settings, "log.level", flags.Lookup("log-level"))
	bind(settings, "log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		evaluateCmd,
		branchesCmd,
		optimizeCmd,
		robustnessCmd,
		combineCmd,
		serveCmd,
		workerCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
