// Package synth generates synthetic CSI frames for demos and tests.
package synth

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/monitoring"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

// Generator produces firmware frames for a set of senders. Each sender's
// amplitude envelope is modulated over time so charts show movement.
type Generator struct {
	mu      sync.Mutex
	seq     map[csi.MAC]uint16
	next    int
	startNs int64
	samples []wire.Sample

	// Configuration
	Variant      wire.Variant
	Native       int       // subcarriers per frame
	Senders      []csi.MAC // round-robin order
	RSSI         int8      // mean RSSI in dBm
	FrameControl uint8
	Amplitude    float64 // peak I/Q magnitude
	MotionHz     float64 // envelope modulation frequency
	Noise        float64 // relative amplitude noise
	FrameRate    float64 // frames per second across all senders

	clock timeutil.Clock
	rng   *rand.Rand
}

// DefaultSenders are the MACs used when none are configured.
var DefaultSenders = []csi.MAC{
	{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
	{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
}

// NewGenerator returns a generator for native subcarriers with demo
// defaults. A nil clock uses the wall clock.
func NewGenerator(variant wire.Variant, native int, clock timeutil.Clock) *Generator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Generator{
		seq:          make(map[csi.MAC]uint16),
		startNs:      clock.Now().UnixNano(),
		samples:      make([]wire.Sample, native),
		Variant:      variant,
		Native:       native,
		Senders:      DefaultSenders,
		RSSI:         -50,
		FrameControl: 0x08,
		Amplitude:    800,
		MotionHz:     0.5,
		Noise:        0.05,
		FrameRate:    50,
		clock:        clock,
		rng:          rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Seed makes the noise sequence reproducible.
func (g *Generator) Seed(seed int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng = rand.New(rand.NewSource(seed))
}

// AppendFrame appends the next raw frame to dst.
func (g *Generator) AppendFrame(dst []byte) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	senders := g.Senders
	if len(senders) == 0 {
		senders = DefaultSenders
	}
	idx := g.next % len(senders)
	mac := senders[idx]
	g.next++
	seq := g.seq[mac]
	g.seq[mac] = seq + 1

	if len(g.samples) != g.Native {
		g.samples = make([]wire.Sample, g.Native)
	}
	elapsed := float64(g.clock.Now().UnixNano()-g.startNs) / 1e9
	offset := float64(idx) * math.Pi / 3
	for k := range g.samples {
		// Smooth spectral shape with a moving envelope.
		shape := 0.6 + 0.4*math.Cos(2*math.Pi*float64(k)/float64(g.Native))
		env := 1 + 0.3*math.Sin(2*math.Pi*g.MotionHz*elapsed+offset+float64(k)*0.05)
		amp := g.Amplitude * shape * env * (1 + g.Noise*g.rng.NormFloat64())
		phase := float64(k)*0.1 + 0.2*math.Sin(elapsed)
		g.samples[k] = wire.Sample{
			Real: clampInt16(amp * math.Cos(phase)),
			Imag: clampInt16(amp * math.Sin(phase)),
		}
	}

	rssi := int(g.RSSI) + g.rng.Intn(5) - 2
	if rssi < math.MinInt8 {
		rssi = math.MinInt8
	}
	h := wire.Header{
		Variant:      g.Variant,
		RSSI:         int8(rssi),
		FrameControl: g.FrameControl,
		MAC:          mac,
		SeqNr:        seq,
	}
	return wire.AppendFrame(dst, h, g.samples)
}

// AppendRelayFrame appends the next frame with a relay timestamp prefix
// taken from the generator's clock.
func (g *Generator) AppendRelayFrame(dst []byte) []byte {
	dst = wire.AppendTimestamp(dst, wire.TimestampFromTime(g.clock.Now()))
	return g.AppendFrame(dst)
}

func clampInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// Run writes one frame per Write to w at FrameRate until ctx ends or count
// frames are sent. A count of 0 runs until ctx ends. It returns the number
// of frames written.
func (g *Generator) Run(ctx context.Context, w io.Writer, count int) (int, error) {
	limit := rate.Inf
	if g.FrameRate > 0 {
		limit = rate.Limit(g.FrameRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var buf []byte
	sent := 0
	for count == 0 || sent < count {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return sent, nil
			}
			return sent, err
		}
		buf = g.AppendFrame(buf[:0])
		if _, err := w.Write(buf); err != nil {
			return sent, fmt.Errorf("send frame: %w", err)
		}
		sent++
	}
	return sent, nil
}

// SendUDP dials addr and runs the generator over it, one frame per
// datagram.
func SendUDP(ctx context.Context, addr string, g *Generator, count int) (int, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()
	monitoring.Logf("Sending synthetic CSI (%s, %d subcarriers, %.0f fps) to %s",
		g.Variant, g.Native, g.FrameRate, addr)
	start := time.Now()
	n, err := g.Run(ctx, conn, count)
	monitoring.Logf("Sent %d frames in %v", n, time.Since(start).Round(time.Millisecond))
	return n, err
}
