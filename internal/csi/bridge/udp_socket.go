package bridge

import (
	"net"
	"sync"
	"time"
)

// UDPSocket defines the UDP operations the bridge needs.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP reads a UDP datagram from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
// *net.UDPConn satisfies UDPSocket directly.
type RealUDPSocketFactory struct{}

// ListenUDP creates a new UDP socket.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. Datagrams queued with
// Push are returned in order; an empty queue reports a read timeout.
type MockUDPSocket struct {
	mu sync.Mutex
	// Packets holds the datagrams still to be returned by ReadFromUDP.
	Packets [][]byte
	// Closed indicates whether Close was called.
	Closed bool
	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
	// ReadError is returned on the next ReadFromUDP call if set.
	ReadError error
	// ReadBufferError is returned by SetReadBuffer if set.
	ReadBufferError error
}

// NewMockUDPSocket creates a mock socket with the given datagrams queued.
func NewMockUDPSocket(packets ...[]byte) *MockUDPSocket {
	return &MockUDPSocket{
		Packets:      packets,
		LocalAddress: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: UDPPort},
	}
}

// Push queues a datagram.
func (m *MockUDPSocket) Push(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, p)
}

// Pending returns the number of queued datagrams.
func (m *MockUDPSocket) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Packets)
}

// ReadFromUDP returns the next queued datagram.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	if len(m.Packets) == 0 {
		m.mu.Unlock()
		// Behave like a socket hitting its read deadline.
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.Packets[0]
	m.Packets = m.Packets[1:]
	m.mu.Unlock()
	return copy(b, pkt), &net.UDPAddr{IP: net.IPv4(10, 10, 10, 1), Port: UDPPort}, nil
}

// SetReadBuffer records the buffer size and returns ReadBufferError.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBufferSize = bytes
	return m.ReadBufferError
}

// SetReadDeadline is a no-op.
func (m *MockUDPSocket) SetReadDeadline(time.Time) error { return nil }

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr { return m.LocalAddress }

// MockUDPSocketFactory returns a fixed socket or error.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error
}

// ListenUDP returns the configured mock socket.
func (f *MockUDPSocketFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) {
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
