package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/monitoring"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

type recordingStats struct {
	mu          sync.Mutex
	datagrams   int
	relayed     int
	dropped     int
	connections int
}

func (s *recordingStats) AddDatagram(int) {
	s.mu.Lock()
	s.datagrams++
	s.mu.Unlock()
}

func (s *recordingStats) AddRelayed(n int) {
	s.mu.Lock()
	s.relayed += n
	s.mu.Unlock()
}

func (s *recordingStats) AddDropped(n int) {
	s.mu.Lock()
	s.dropped += n
	s.mu.Unlock()
}

func (s *recordingStats) AddConnection() {
	s.mu.Lock()
	s.connections++
	s.mu.Unlock()
}

func (s *recordingStats) LogStats() {}

func (s *recordingStats) get() (datagrams, dropped, connections int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datagrams, s.dropped, s.connections
}

func startBridge(t *testing.T, cfg Config) (*Bridge, *MockUDPSocket, *recordingStats) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	sock := NewMockUDPSocket()
	stats := &recordingStats{}
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.SocketFactory = &MockUDPSocketFactory{Socket: sock}
	cfg.Stats = stats
	b := New(cfg)
	require.NoError(t, b.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
		assert.True(t, sock.Closed, "UDP socket closed on shutdown")
	})
	return b, sock, stats
}

func dial(t *testing.T, b *Bridge) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", b.TCPAddr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridge_RelaysWithTimestamp(t *testing.T) {
	for _, mode := range []Mode{ModeBuffered, ModeDirect} {
		t.Run(mode.String(), func(t *testing.T) {
			clock := timeutil.NewMockClock(time.Unix(1700000000, 250))
			b, sock, _ := startBridge(t, Config{Mode: mode, Clock: clock})

			sock.Push([]byte("first"))
			sock.Push([]byte("second!"))

			conn := dial(t, b)
			defer conn.Close()

			got := make([]byte, 2*wire.TimestampSize+len("first")+len("second!"))
			_, err := io.ReadFull(conn, got)
			require.NoError(t, err)

			ts, err := wire.ParseTimestamp(got)
			require.NoError(t, err)
			assert.Equal(t, wire.Timestamp{Sec: 1700000000, Nsec: 250}, ts)
			assert.Equal(t, "first", string(got[16:21]))
			assert.Equal(t, "second!", string(got[37:]))
		})
	}
}

func TestBridge_ReturnsToListeningAfterDisconnect(t *testing.T) {
	b, sock, stats := startBridge(t, Config{})

	first := dial(t, b)
	waitFor(t, func() bool { _, _, c := stats.get(); return c == 1 })
	require.NoError(t, first.Close())

	second := dial(t, b)
	defer second.Close()
	waitFor(t, func() bool { _, _, c := stats.get(); return c == 2 })

	sock.Push([]byte("after reconnect"))
	got := make([]byte, wire.TimestampSize+len("after reconnect"))
	_, err := io.ReadFull(second, got)
	require.NoError(t, err)
	assert.Equal(t, "after reconnect", string(got[wire.TimestampSize:]))
}

func TestBridge_OverflowIsCountedNotFatal(t *testing.T) {
	b, sock, stats := startBridge(t, Config{BufferSize: 20})

	conn := dial(t, b)
	defer conn.Close()
	waitFor(t, func() bool { _, _, c := stats.get(); return c == 1 })

	payload := bytes.Repeat([]byte{0x11}, 30)
	sock.Push(payload)

	got := make([]byte, 20)
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)

	waitFor(t, func() bool { _, d, _ := stats.get(); return d == 26 })
	datagrams, _, _ := stats.get()
	assert.Equal(t, 1, datagrams)
}

func TestBridge_ListenFailure(t *testing.T) {
	b := New(Config{
		TCPAddr:       "127.0.0.1:0",
		SocketFactory: &MockUDPSocketFactory{Error: errors.New("address in use")},
	})
	err := b.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestBridge_TCPListenFailureClosesUDP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	sock := NewMockUDPSocket()
	b := New(Config{TCPAddr: ln.Addr().String(), SocketFactory: &MockUDPSocketFactory{Socket: sock}})
	require.Error(t, b.Listen())
	assert.True(t, sock.Closed)
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, ":5500", b.udpAddr)
	assert.Equal(t, ":5501", b.tcpAddr)
	assert.Equal(t, MaxRecord*DefaultBufferedRecords, b.bufferSize)
	assert.Equal(t, 2082, MaxRecord)
	assert.Equal(t, ModeBuffered, b.mode)
}

func TestRelayStats(t *testing.T) {
	original := monitoring.Logf
	var logged string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = format })
	defer func() { monitoring.Logf = original }()

	s := NewRelayStats(monitoring.NewMetrics())
	s.AddDatagram(100)
	s.AddRelayed(116)
	s.AddDropped(0)
	s.AddDropped(10)
	s.AddConnection()

	snap := s.GetAndReset()
	assert.Equal(t, int64(1), snap.Datagrams)
	assert.Equal(t, int64(116), snap.Relayed)
	assert.Equal(t, int64(10), snap.Dropped)
	assert.Equal(t, int64(1), snap.Connections)

	again := s.GetAndReset()
	again.Duration = 0
	assert.Equal(t, Snapshot{}, again)
	s.LogStats()
	assert.Contains(t, logged, "Bridge:")
}
