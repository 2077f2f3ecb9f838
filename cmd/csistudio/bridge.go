package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/csi/bridge"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

var bridgeFlags struct {
	udp           string
	tcp           string
	mode          string
	records       int
	rcvBuf        int
	statsInterval time.Duration
	metrics       string
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Relay firmware UDP datagrams to one TCP client",
	Long: `Run the ingest bridge with configurable addresses. The standalone
csi-bridge binary runs the same relay with the fixed ports 5500 and 5501.`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	fs := bridgeCmd.Flags()
	fs.StringVar(&bridgeFlags.udp, "udp", fmt.Sprintf(":%d", bridge.UDPPort), "UDP ingest address")
	fs.StringVar(&bridgeFlags.tcp, "tcp", fmt.Sprintf(":%d", bridge.TCPPort), "TCP relay address")
	fs.StringVar(&bridgeFlags.mode, "mode", "buffered", "relay mode: buffered or direct")
	fs.IntVar(&bridgeFlags.records, "records", bridge.DefaultBufferedRecords, "ring buffer capacity in maximum-size records")
	fs.IntVar(&bridgeFlags.rcvBuf, "rcvbuf", 0, "UDP receive buffer size in bytes (0 keeps the OS default)")
	fs.DurationVar(&bridgeFlags.statsInterval, "stats-interval", time.Minute, "relay statistics log interval")
	fs.StringVar(&bridgeFlags.metrics, "metrics", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(bridgeCmd)
}

func parseMode(s string) (bridge.Mode, error) {
	switch s {
	case "buffered", "":
		return bridge.ModeBuffered, nil
	case "direct":
		return bridge.ModeDirect, nil
	}
	return 0, fmt.Errorf("unknown bridge mode %q (want buffered or direct)", s)
}

func runBridge(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(bridgeFlags.mode)
	if err != nil {
		return err
	}
	if bridgeFlags.records <= 0 {
		return fmt.Errorf("--records must be positive")
	}

	metrics := monitoring.NewMetrics()
	b := bridge.New(bridge.Config{
		UDPAddr:     bridgeFlags.udp,
		TCPAddr:     bridgeFlags.tcp,
		Mode:        mode,
		BufferSize:  bridge.MaxRecord * bridgeFlags.records,
		RcvBuf:      bridgeFlags.rcvBuf,
		LogInterval: bridgeFlags.statsInterval,
		Stats:       bridge.NewRelayStats(metrics),
	})
	if err := b.Listen(); err != nil {
		return err
	}

	if bridgeFlags.metrics != "" {
		srv := &http.Server{
			Addr:              bridgeFlags.metrics,
			Handler:           promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				monitoring.Logf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := b.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
