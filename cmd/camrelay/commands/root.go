package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "camrelay",
		Short: "CamRelay - cross-process frame relay for a virtual camera",
		Long: `CamRelay moves filtered video frames from a producer process to the
consumer process that exposes them as a virtual camera device, at bounded
latency and a fixed output cadence.

The consumer hosts the virtual device: it registers the device's input
endpoint, accepts the producer's hand-off channel, and emits frames to
downstream clients at a steady rate, degrading to a synthetic fallback
frame when no real frame is available. The producer discovers the device,
connects with bounded retries, and relays frames under credit-based flow
control (latest frame wins, no backlog).`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/camrelay/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console log output")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
