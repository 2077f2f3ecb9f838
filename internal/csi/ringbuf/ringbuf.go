// Package ringbuf implements a fixed-capacity circular byte buffer with a
// blocking reader and a lossy, never-blocking writer.
package ringbuf

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Read once the buffer has been closed.
var ErrClosed = errors.New("ringbuf: closed")

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1 << 20

// Buffer is a circular byte buffer. Write never blocks and never grows the
// buffer: bytes that do not fit are dropped and counted. Read blocks while
// the buffer is empty. Buffer is safe for one writer and one reader running
// concurrently.
type Buffer struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond

	data   []byte
	rpos   int
	wpos   int
	count  int
	closed bool

	dropped uint64
	written uint64
}

// New returns an empty buffer holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{data: make([]byte, capacity)}
	b.nonEmpty = sync.NewCond(&b.mu)
	return b
}

// Write copies as much of p as fits into the free space and returns the
// number of bytes stored. The remainder is dropped.
func (b *Buffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.dropped += uint64(len(p))
		return 0
	}

	n := len(p)
	if free := len(b.data) - b.count; n > free {
		n = free
	}
	b.dropped += uint64(len(p) - n)
	if n == 0 {
		return 0
	}

	// Copy up to the end of the backing array, then wrap.
	first := copy(b.data[b.wpos:], p[:n])
	if first < n {
		copy(b.data, p[first:n])
	}
	b.wpos = (b.wpos + n) % len(b.data)
	b.count += n
	b.written += uint64(n)

	b.nonEmpty.Signal()
	return n
}

// Read blocks until data is available or the buffer is closed, then copies
// up to len(p) bytes. It never waits for p to fill.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.nonEmpty.Wait()
	}
	if b.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := len(p)
	if n > b.count {
		n = b.count
	}
	first := copy(p[:n], b.data[b.rpos:])
	if first < n {
		copy(p[first:n], b.data)
	}
	b.rpos = (b.rpos + n) % len(b.data)
	b.count -= n
	return n, nil
}

// Close wakes every blocked reader. Subsequent reads return ErrClosed and
// subsequent writes are dropped.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.nonEmpty.Broadcast()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Free returns the number of bytes a Write could currently store.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.count
}

// Stats reports the total bytes stored and dropped since creation.
func (b *Buffer) Stats() (written, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written, b.dropped
}
