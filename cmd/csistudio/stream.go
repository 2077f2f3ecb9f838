package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/csi/stream"
)

var streamFlags struct {
	host   hostFlags
	server string
	direct bool
	udp    string
	once   bool
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Consume a live CSI stream",
	Long: `Connect to csi-bridge (default) or bind the firmware UDP port directly
with --direct, and process frames until interrupted. Lost connections are
retried after reconnect_delay unless --once is given.`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

func init() {
	streamFlags.host.register(streamCmd)
	fs := streamCmd.Flags()
	fs.StringVar(&streamFlags.server, "server", "", "bridge address (default from config, then 127.0.0.1:5501)")
	fs.BoolVar(&streamFlags.direct, "direct", false, "bind UDP directly instead of connecting to a bridge")
	fs.StringVar(&streamFlags.udp, "udp", "", "UDP listen address for --direct (default :5500)")
	fs.BoolVar(&streamFlags.once, "once", false, "exit when the first connection ends")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("server") {
		cfg.ServerAddr = &streamFlags.server
	}
	if cmd.Flags().Changed("udp") {
		cfg.UDPListenAddr = &streamFlags.udp
	}
	if err := streamFlags.host.apply(cmd, cfg); err != nil {
		return err
	}

	h, err := newHost(cfg)
	if err != nil {
		return err
	}

	var src stream.Source
	if streamFlags.direct {
		src = &stream.UDPSource{Addr: cfg.GetUDPListenAddr(), Native: cfg.DecoderConfig().NativeSubcarriers, RcvBuf: 4 << 20}
	} else {
		src = stream.NewTCPSource(cfg.GetServerAddr(), cfg.DecoderConfig().NativeSubcarriers)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runHost(ctx, h, src, streamFlags.host.record, streamFlags.once)
}
