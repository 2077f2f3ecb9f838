// Command csistudio is the CSI stream host: it consumes frames from an
// ingest bridge, a direct UDP socket or a capture file, runs the filter
// pipeline and feeds the display, recording and live-export sinks.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "csistudio",
	Short: "Wi-Fi channel state information stream host",
	Long: `csistudio decodes Nexmon CSI frames relayed by csi-bridge (or read
directly from UDP or a capture file), runs native filter plugins over them
and serves live charts, recordings and a live export feed.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "host configuration file (.json, .yaml or .yml)")
}

// loadConfig reads --config, or returns an empty configuration.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return &config.Config{}, nil
	}
	return config.Load(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
