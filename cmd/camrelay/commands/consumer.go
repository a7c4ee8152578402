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

	"github.com/camrelay/camrelay/internal/api"
	"github.com/camrelay/camrelay/internal/cadence"
	"github.com/camrelay/camrelay/internal/config"
	"github.com/camrelay/camrelay/internal/handoff"
	"github.com/camrelay/camrelay/internal/logger"
	"github.com/camrelay/camrelay/internal/output"
	"github.com/camrelay/camrelay/internal/registry"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Run the virtual-camera consumer process",
	Long: `Run the consumer side of the relay: registers the virtual device,
listens for the producer's hand-off channel, and emits frames downstream
at the fixed output cadence.

While no frame is available, downstream clients receive a deterministic
fallback frame instead of a frozen or missing stream.`,
	Example: `  # Run with defaults (device "CamRelay Camera", port 8090)
  camrelay consumer

  # Run on a custom port
  camrelay consumer --port 9090

  # Run with debug logging
  camrelay consumer --log-level debug`,
	RunE: runConsumer,
}

func init() {
	rootCmd.AddCommand(consumerCmd)

	consumerCmd.Flags().Int("port", 0, "listen port (default is 8090)")
	viper.BindPFlag("consumer_port", consumerCmd.Flags().Lookup("port"))
}

func runConsumer(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	applyOverrides(configMgr)

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("consumer")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	if viper.IsSet("consumer_port") {
		if port := viper.GetInt("consumer_port"); port > 0 {
			configMgr.SetPort(port)
			cfg = configMgr.Get()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hand-off channel (consumer side)
	receiver := handoff.NewReceiver()
	defer receiver.Close()
	listener := handoff.NewListener(receiver)

	// Output cadence driver + consume loop
	driver := cadence.NewDriver(cfg.Video.Interval(), cfg.Video.Width, cfg.Video.Height)
	loop := cadence.NewLoop(receiver, driver)

	// MJPEG preview. The frame path runs through the Output interface so
	// a platform virtual-camera writer can take the preview's place.
	preview := output.NewMJPEGOutput(output.Config{
		Width:  cfg.Video.Width,
		Height: cfg.Video.Height,
		FPS:    cfg.Video.FPS,
	})
	var sink output.Output = preview
	if err := sink.Start(); err != nil {
		return fmt.Errorf("failed to start %s output: %w", sink.Name(), err)
	}
	defer sink.Stop()

	// Registry + API server
	reg := registry.NewStatic()
	server := api.NewServer(reg, listener, preview, func() interface{} {
		return map[string]interface{}{
			"handoff":         receiver.Stats(),
			"cadence":         driver.Stats(),
			"preview_clients": preview.ClientCount(),
		}
	})
	server.RegisterDevice(cfg.Device.Name, cfg.Consumer.ListenPort)

	go func() {
		if err := server.Start(cfg.Consumer.ListenPort); err != nil {
			log.Error().Err(err).Msg("API server exited")
			cancel()
		}
	}()

	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cadence driver: %w", err)
	}
	defer driver.Stop()

	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consume loop: %w", err)
	}
	defer loop.Stop()

	// Feed cadence output into the preview
	sub, unsubscribe := driver.Subscribe()
	defer unsubscribe()
	go func() {
		for f := range sub {
			sink.WriteFrame(f)
		}
	}()

	log.Info().
		Str("device", cfg.Device.Name).
		Int("port", cfg.Consumer.ListenPort).
		Int("fps", cfg.Video.FPS).
		Msg("Consumer running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// applyOverrides maps global viper flags onto the configuration.
func applyOverrides(configMgr *config.Manager) {
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
}
