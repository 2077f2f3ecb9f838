package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/csistudio/internal/csi/wire"
)

// Source opens a connection yielding raw frames.
type Source interface {
	Open(ctx context.Context) (FrameReader, error)
	String() string
}

// FrameReader yields one raw frame at a time. The returned slice is valid
// until the next call. io.EOF and io.ErrUnexpectedEOF report that the peer
// went away; a partial frame is discarded.
type FrameReader interface {
	Next() (ts time.Time, frame []byte, err error)
	Close() error
}

// TCPSource connects to an ingest bridge and reads fixed-size timestamped
// frames.
type TCPSource struct {
	Addr      string
	FrameSize int
	Dialer    net.Dialer
}

// NewTCPSource returns a source for frames of the given native length.
func NewTCPSource(addr string, native int) *TCPSource {
	return &TCPSource{Addr: addr, FrameSize: wire.FrameSize(native), Dialer: net.Dialer{Timeout: 5 * time.Second}}
}

func (s *TCPSource) String() string { return "tcp://" + s.Addr }

// Open dials the bridge. The connection is closed when ctx ends.
func (s *TCPSource) Open(ctx context.Context) (FrameReader, error) {
	conn, err := s.Dialer.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.Addr, err)
	}
	r := &tcpReader{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
		buf:  make([]byte, wire.TimestampSize+s.FrameSize),
		done: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-r.done:
		}
	}()
	return r, nil
}

type tcpReader struct {
	conn      net.Conn
	br        *bufio.Reader
	buf       []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (r *tcpReader) Next() (time.Time, []byte, error) {
	if _, err := io.ReadFull(r.br, r.buf); err != nil {
		if errors.Is(err, net.ErrClosed) {
			err = io.EOF
		}
		return time.Time{}, nil, err
	}
	ts, err := wire.ParseTimestamp(r.buf)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return ts.Time(), r.buf[wire.TimestampSize:], nil
}

func (r *tcpReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	return err
}
