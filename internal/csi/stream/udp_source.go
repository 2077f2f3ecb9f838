package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/banshee-data/csistudio/internal/csi/bridge"
	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/monitoring"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

// UDPSource binds the firmware UDP port directly and timestamps datagrams
// on arrival, without a bridge in between. Datagrams shorter than a full
// frame of Native subcarriers (a header when Native is 0) are skipped.
type UDPSource struct {
	Addr    string
	Native  int
	RcvBuf  int
	Clock   timeutil.Clock
	Factory bridge.UDPSocketFactory
}

func (s *UDPSource) String() string { return "udp://" + s.Addr }

// Open binds the socket. Reads poll ctx every 100ms.
func (s *UDPSource) Open(ctx context.Context) (FrameReader, error) {
	factory := s.Factory
	if factory == nil {
		factory = bridge.RealUDPSocketFactory{}
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	addr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	sock, err := factory.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if s.RcvBuf > 0 {
		if err := sock.SetReadBuffer(s.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", s.RcvBuf, err)
		}
	}
	minSize := wire.HeaderSize
	if s.Native > 0 {
		minSize = wire.FrameSize(s.Native)
	}
	return &udpReader{
		ctx:      ctx,
		sock:     sock,
		clock:    clock,
		buf:      make([]byte, bridge.MaxRecord),
		minSize:  minSize,
		throttle: monitoring.NewThrottle(10 * time.Second),
	}, nil
}

type udpReader struct {
	ctx      context.Context
	sock     bridge.UDPSocket
	clock    timeutil.Clock
	buf      []byte
	minSize  int
	throttle *monitoring.Throttle
	runts    uint64
}

func (r *udpReader) Next() (time.Time, []byte, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return time.Time{}, nil, err
		}
		r.sock.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := r.sock.ReadFromUDP(r.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return time.Time{}, nil, io.EOF
			}
			return time.Time{}, nil, err
		}
		if n < r.minSize {
			// Datagrams have no stream framing to lose, so a runt is
			// skipped instead of ending the connection.
			r.runts++
			r.throttle.Logf("Skipping %d-byte UDP datagram, want at least %d bytes", n, r.minSize)
			continue
		}
		return r.clock.Now(), r.buf[:n], nil
	}
}

func (r *udpReader) Close() error { return r.sock.Close() }
