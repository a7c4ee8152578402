package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camrelay/camrelay/internal/config"
	"github.com/camrelay/camrelay/internal/registry"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered virtual devices",
	Long: `Query the consumer's registry and list the virtual devices and
stream endpoints a producer would discover.`,
	Example: `  # List devices in table format (default)
  camrelay devices

  # List devices in JSON format
  camrelay devices --format json`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
	devicesCmd.Flags().String("registry", "", "consumer registry URL (default is http://localhost:8090)")
	viper.BindPFlag("registry_url", devicesCmd.Flags().Lookup("registry"))
}

func runDevices(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if viper.IsSet("registry_url") {
		if url := viper.GetString("registry_url"); url != "" {
			configMgr.SetRegistryURL(url)
		}
	}
	cfg := configMgr.Get()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reg := registry.NewHTTPRegistry(cfg.Producer.RegistryURL)
	devices, err := reg.Devices(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if devicesFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tENDPOINT\tID\tURL")
	for _, dev := range devices {
		for _, ep := range dev.Endpoints {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dev.Name, ep.Name, ep.ID, ep.URL)
		}
	}
	return w.Flush()
}
