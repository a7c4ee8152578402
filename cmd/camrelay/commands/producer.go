package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camrelay/camrelay/internal/config"
	"github.com/camrelay/camrelay/internal/logger"
	"github.com/camrelay/camrelay/internal/registry"
	"github.com/camrelay/camrelay/internal/source"
	"github.com/camrelay/camrelay/internal/supervisor"
)

var producerCmd = &cobra.Command{
	Use:   "producer",
	Short: "Run the frame producer process",
	Long: `Run the producer side of the relay: discovers the virtual device's
input endpoint, connects the hand-off channel with bounded retries, and
relays frames under credit-based flow control.

Without a real capture pipeline attached, a moving test pattern is
emitted at the capture rate.`,
	Example: `  # Relay to the default consumer (http://localhost:8090)
  camrelay producer

  # Relay to a consumer on a different host
  camrelay producer --registry http://camhost:8090`,
	RunE: runProducer,
}

func init() {
	rootCmd.AddCommand(producerCmd)

	producerCmd.Flags().String("registry", "", "consumer registry URL (default is http://localhost:8090)")
	viper.BindPFlag("registry_url", producerCmd.Flags().Lookup("registry"))
}

func runProducer(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	applyOverrides(configMgr)

	if viper.IsSet("registry_url") {
		if url := viper.GetString("registry_url"); url != "" {
			configMgr.SetRegistryURL(url)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("producer")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.NewHTTPRegistry(cfg.Producer.RegistryURL)
	sup := supervisor.New(supervisor.Config{
		DeviceName:          cfg.Device.Name,
		MaxRetries:          cfg.Producer.MaxRetries,
		RetryDelay:          cfg.Producer.RetryDelay(),
		FailedPublishBudget: cfg.Producer.FailedPublishBudget,
	}, reg, nil)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	defer sup.Stop()
	sup.Connect()

	src := source.NewPatternSource(cfg.Video.Width, cfg.Video.Height, cfg.Video.FPS, sup.PublishFrame)
	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("failed to start frame source: %w", err)
	}
	defer src.Stop()

	log.Info().
		Str("device", cfg.Device.Name).
		Str("registry", cfg.Producer.RegistryURL).
		Msg("Producer running")

	// Periodic relay counters, same numbers /api/stats shows consumer-side.
	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down gracefully")
			return nil
		case <-statsTicker.C:
			stats := sup.Stats()
			log.Info().
				Str("state", stats.State).
				Uint64("sent", stats.FramesSent).
				Uint64("dropped", stats.FramesDropped).
				Uint64("reconnects", stats.Reconnects).
				Msg("Relay stats")
		}
	}
}
