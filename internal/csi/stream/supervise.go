package stream

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/csistudio/internal/monitoring"
)

// DefaultRetryDelay is the pause between connection attempts in Supervise.
const DefaultRetryDelay = 2 * time.Second

// Supervise calls Run until ctx ends, pausing delay between attempts. When
// once is set it stops after the first connection ends and returns its
// error, with ErrDisconnected reported as nil.
func (o *Orchestrator) Supervise(ctx context.Context, src Source, delay time.Duration, once bool) error {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	for {
		err := o.Run(ctx, src)
		if ctx.Err() != nil {
			return nil
		}
		if once {
			if errors.Is(err, ErrDisconnected) {
				return nil
			}
			return err
		}
		monitoring.Logf("Reconnecting to %s in %v (last error: %v)", src, delay, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}
