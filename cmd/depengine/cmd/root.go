package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/parallux/depengine/pkg/config"
	"github.com/parallux/depengine/pkg/utils"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger utils.Logger
	appCfg *config.Config
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "depengine",
	Short: "A task dependency engine runtime",
	Long: `depengine drives the dependency engine described in this module's
specification: it computes the inter-task happens-before graph from typed
data-access declarations and releases each task to a worker pool the moment
its inputs are satisfied.

This CLI exists to exercise that engine directly — the demo subcommand runs
the spec's own end-to-end scenarios through the real registration/linking/
propagation/finalization pipeline, and serve boots the scheduler behind a
gRPC health check for longer-lived use.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := utils.LevelInfo
		if verbose {
			logLevel = utils.LevelDebug
		}
		logger = utils.NewDefaultLogger(logLevel, os.Stdout)
		utils.SetGlobalLogger(logger)

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		appCfg = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: config.yaml searched in ., ./configs and /etc/depengine, else built-in defaults)")

	binName := BinName()
	rootCmd.Example = `  # Run the spec's S1-S6 scenarios through the real engine
  ` + binName + ` demo

  # Run a single scenario with verbose instrumentation logging
  ` + binName + ` demo -v --scenario S2

  # Start the scheduler behind a gRPC health check
  ` + binName + ` serve --addr :9090`
}

// GetLogger returns the configured logger.
func GetLogger() utils.Logger {
	if logger == nil {
		return utils.NewDefaultLogger(utils.LevelInfo, os.Stdout)
	}
	return logger
}

// GetConfig returns the loaded application configuration.
func GetConfig() *config.Config {
	if appCfg == nil {
		appCfg, _ = config.Load("")
	}
	return appCfg
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
