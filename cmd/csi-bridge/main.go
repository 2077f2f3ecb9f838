// Command csi-bridge relays Nexmon CSI datagrams from UDP port 5500 to a
// single TCP client on port 5501, prefixing each with its arrival time.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/csistudio/internal/csi/bridge"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.New(bridge.Config{
		Stats: bridge.NewRelayStats(nil),
	})
	if err := b.Listen(); err != nil {
		log.Printf("csi-bridge: %v", err)
		os.Exit(1)
	}
	if err := b.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("csi-bridge: %v", err)
	}
	log.Printf("csi-bridge: shutting down")
}
