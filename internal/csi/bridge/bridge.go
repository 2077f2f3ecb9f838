// Package bridge relays firmware CSI datagrams from UDP to a single TCP
// client. Each datagram is prefixed with a 16-byte capture timestamp. In
// buffered mode a ring buffer decouples the UDP receiver from the TCP
// sender so a slow client never slows reception; excess bytes are dropped.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/csi/ringbuf"
	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/monitoring"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

// Fixed ports of the relay.
const (
	UDPPort = 5500
	TCPPort = 5501
)

// MaxRecord is the largest timestamped datagram relayed.
var MaxRecord = wire.RelayFrameSize(csi.MaxSubcarriers)

// DefaultBufferedRecords is the number of maximum-size records the ring
// buffer can hold.
const DefaultBufferedRecords = 1000

// Mode selects how datagrams reach the TCP client.
type Mode int

const (
	// ModeBuffered relays through a ring buffer drained by a separate sender.
	ModeBuffered Mode = iota
	// ModeDirect writes each datagram to the client synchronously. Under load
	// the UDP socket backs up and timestamps lag; kept for comparison.
	ModeDirect
)

func (m Mode) String() string {
	if m == ModeDirect {
		return "direct"
	}
	return "buffered"
}

// errClientGone marks a broken or closed client connection. It ends the
// connection's goroutines and returns the bridge to accepting.
var errClientGone = errors.New("client disconnected")

// Config configures a Bridge.
type Config struct {
	UDPAddr       string
	TCPAddr       string
	Mode          Mode
	BufferSize    int
	RcvBuf        int
	LogInterval   time.Duration
	Stats         Stats
	Clock         timeutil.Clock
	SocketFactory UDPSocketFactory
}

// Bridge accepts one TCP client at a time and relays UDP datagrams to it.
type Bridge struct {
	udpAddr     string
	tcpAddr     string
	mode        Mode
	bufferSize  int
	rcvBuf      int
	logInterval time.Duration
	stats       Stats
	clock       timeutil.Clock
	factory     UDPSocketFactory

	udp UDPSocket
	ln  net.Listener
}

// New creates a bridge. Zero values select the fixed ports, buffered mode
// and a buffer of DefaultBufferedRecords records.
func New(config Config) *Bridge {
	b := &Bridge{
		udpAddr:     config.UDPAddr,
		tcpAddr:     config.TCPAddr,
		mode:        config.Mode,
		bufferSize:  config.BufferSize,
		rcvBuf:      config.RcvBuf,
		logInterval: config.LogInterval,
		stats:       config.Stats,
		clock:       config.Clock,
		factory:     config.SocketFactory,
	}
	if b.udpAddr == "" {
		b.udpAddr = fmt.Sprintf(":%d", UDPPort)
	}
	if b.tcpAddr == "" {
		b.tcpAddr = fmt.Sprintf(":%d", TCPPort)
	}
	if b.bufferSize <= 0 {
		b.bufferSize = MaxRecord * DefaultBufferedRecords
	}
	if b.logInterval == 0 {
		b.logInterval = time.Minute
	}
	if b.stats == nil {
		b.stats = noopStats{}
	}
	if b.clock == nil {
		b.clock = timeutil.RealClock{}
	}
	if b.factory == nil {
		b.factory = RealUDPSocketFactory{}
	}
	return b
}

// Listen binds the UDP ingest socket and the TCP relay listener.
func (b *Bridge) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", b.udpAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	udp, err := b.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if b.rcvBuf > 0 {
		if err := udp.SetReadBuffer(b.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", b.rcvBuf, err)
		}
	}

	ln, err := net.Listen("tcp", b.tcpAddr)
	if err != nil {
		udp.Close()
		return fmt.Errorf("failed to listen on TCP address: %w", err)
	}
	b.udp = udp
	b.ln = ln
	monitoring.Logf("Bridge listening: UDP %s -> TCP %s (%s mode)", udp.LocalAddr(), ln.Addr(), b.mode)
	return nil
}

// TCPAddr returns the bound relay address. Listen must have succeeded.
func (b *Bridge) TCPAddr() net.Addr { return b.ln.Addr() }

// UDPAddr returns the bound ingest address. Listen must have succeeded.
func (b *Bridge) UDPAddr() net.Addr { return b.udp.LocalAddr() }

// Run listens and serves until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Listen(); err != nil {
		return err
	}
	return b.Serve(ctx)
}

// Serve accepts clients one at a time until ctx is cancelled. A client
// disconnect returns the bridge to accepting; it never ends Serve.
func (b *Bridge) Serve(ctx context.Context) error {
	defer b.udp.Close()
	go func() {
		<-ctx.Done()
		b.ln.Close()
	}()
	go b.logStats(ctx)

	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("accept: %v", err)
			b.clock.Sleep(100 * time.Millisecond)
			continue
		}
		b.stats.AddConnection()
		monitoring.Logf("Client connected: %s", conn.RemoteAddr())

		err = b.serveConn(ctx, conn)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil || errors.Is(err, errClientGone):
			monitoring.Logf("Client %s disconnected, waiting for the next one", conn.RemoteAddr())
		default:
			monitoring.Logf("Connection %s ended: %v", conn.RemoteAddr(), err)
		}
	}
}

// serveConn runs the per-client goroutines: UDP receive, TCP send (buffered
// mode) and a watcher that notices the client hanging up.
func (b *Bridge) serveConn(ctx context.Context, conn net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	var sink func([]byte) error
	if b.mode == ModeDirect {
		sink = func(rec []byte) error { return b.writeClient(conn, rec) }
	} else {
		rb := ringbuf.New(b.bufferSize)
		sink = func(rec []byte) error {
			n := rb.Write(rec)
			b.stats.AddDropped(len(rec) - n)
			return nil
		}
		g.Go(func() error { return b.send(rb, conn) })
		g.Go(func() error {
			<-gctx.Done()
			rb.Close()
			return nil
		})
	}

	g.Go(func() error { return b.receive(gctx, sink) })
	g.Go(func() error { return watch(conn) })
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	return g.Wait()
}

// receive reads datagrams, stamps them and hands them to sink until ctx
// ends or sink fails.
func (b *Bridge) receive(ctx context.Context, sink func([]byte) error) error {
	buf := make([]byte, MaxRecord)
	for {
		if ctx.Err() != nil {
			return nil
		}
		// Set read deadline to allow checking context cancellation
		b.udp.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := b.udp.ReadFromUDP(buf[wire.TimestampSize:])
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}
		b.stats.AddDatagram(n)
		wire.AppendTimestamp(buf[:0], wire.TimestampFromTime(b.clock.Now()))
		if err := sink(buf[:wire.TimestampSize+n]); err != nil {
			return err
		}
	}
}

// send drains rb into conn until the buffer is closed or the write fails.
func (b *Bridge) send(rb *ringbuf.Buffer, conn net.Conn) error {
	buf := make([]byte, MaxRecord)
	for {
		n, err := rb.Read(buf)
		if err != nil {
			return nil
		}
		if err := b.writeClient(conn, buf[:n]); err != nil {
			return err
		}
	}
}

func (b *Bridge) writeClient(conn net.Conn, p []byte) error {
	n, err := conn.Write(p)
	b.stats.AddRelayed(n)
	if err != nil {
		return fmt.Errorf("%w: %v", errClientGone, err)
	}
	return nil
}

// watch blocks until the client closes its side. Clients never send data;
// anything received is discarded.
func watch(conn net.Conn) error {
	_, err := io.Copy(io.Discard, conn)
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("%w: %v", errClientGone, err)
}

func (b *Bridge) logStats(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		b.stats.LogStats()
	}

	ticker := time.NewTicker(b.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.stats.LogStats()
		}
	}
}
