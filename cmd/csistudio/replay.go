package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/csi/bridge"
	"github.com/banshee-data/csistudio/internal/csi/stream"
)

var replayFlags struct {
	host     hostFlags
	port     uint16
	realtime bool
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Replay a packet capture through the pipeline",
	Long: `Read firmware datagrams from a pcap or pcapng capture (for example from
tcpdump -w) and process them exactly like a live stream. Each frame keeps
its capture timestamp.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayFlags.host.register(replayCmd)
	fs := replayCmd.Flags()
	fs.Uint16Var(&replayFlags.port, "port", bridge.UDPPort, "UDP destination port of the CSI datagrams")
	fs.BoolVar(&replayFlags.realtime, "realtime", false, "honour the original inter-packet gaps")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := replayFlags.host.apply(cmd, cfg); err != nil {
		return err
	}
	h, err := newHost(cfg)
	if err != nil {
		return err
	}

	src := &stream.PCAPSource{Path: args[0], Port: replayFlags.port, Realtime: replayFlags.realtime}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runHost(ctx, h, src, replayFlags.host.record, true)
}
