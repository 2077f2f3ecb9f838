package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/csi/bridge"
	"github.com/banshee-data/csistudio/internal/csi/synth"
	"github.com/banshee-data/csistudio/internal/csi/wire"
)

var synthFlags struct {
	addr    string
	variant string
	native  int
	rate    float64
	count   int
	rssi    int
	senders []string
}

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Send synthetic CSI frames over UDP",
	Long: `Generate valid firmware frames with a slowly moving amplitude envelope
and send them to a bridge or a host in --direct mode. Useful for demos and
for exercising the pipeline without a capture device.`,
	Args: cobra.NoArgs,
	RunE: runSynth,
}

func init() {
	fs := synthCmd.Flags()
	fs.StringVar(&synthFlags.addr, "addr", fmt.Sprintf("127.0.0.1:%d", bridge.UDPPort), "destination UDP address")
	fs.StringVar(&synthFlags.variant, "variant", "rssi", "wire variant: rssi or plain")
	fs.IntVar(&synthFlags.native, "native", 64, "subcarriers per frame (64, 128 or 256)")
	fs.Float64Var(&synthFlags.rate, "rate", 50, "frames per second (0 = unthrottled)")
	fs.IntVar(&synthFlags.count, "count", 0, "frames to send (0 = until interrupted)")
	fs.IntVar(&synthFlags.rssi, "rssi", -50, "mean RSSI in dBm")
	fs.StringSliceVar(&synthFlags.senders, "mac", nil, "sender MACs (default two locally administered MACs)")
	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, args []string) error {
	variant, err := wire.ParseVariant(synthFlags.variant)
	if err != nil {
		return err
	}
	if err := (wire.Config{Variant: variant, NativeSubcarriers: synthFlags.native}).Validate(); err != nil {
		return err
	}
	if synthFlags.rssi < -128 || synthFlags.rssi > 127 {
		return fmt.Errorf("--rssi %d out of range", synthFlags.rssi)
	}

	g := synth.NewGenerator(variant, synthFlags.native, nil)
	g.FrameRate = synthFlags.rate
	g.RSSI = int8(synthFlags.rssi)
	if len(synthFlags.senders) > 0 {
		g.Senders = nil
		for _, s := range synthFlags.senders {
			mac, err := csi.ParseMAC(s)
			if err != nil {
				return err
			}
			g.Senders = append(g.Senders, mac)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	_, err = synth.SendUDP(ctx, synthFlags.addr, g, synthFlags.count)
	return err
}
