package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

// ErrClosed is returned by WriteRecord after Close.
var ErrClosed = errors.New("recorder is closed")

// Recorder writes records to one file. Each frame is serialized into its
// own buffer and handed to the file in a single Write.
type Recorder struct {
	mu sync.Mutex

	w      io.WriteCloser
	name   string
	format Format
	n      int

	buf    []byte
	frames uint64
	bytes  uint64
	closed bool
}

// New writes the header for a recording of n subcarriers to w.
func New(w io.WriteCloser, name string, format Format, n int) (*Recorder, error) {
	if n <= 0 || n > csi.MaxSubcarriers {
		return nil, fmt.Errorf("invalid subcarrier count %d", n)
	}
	r := &Recorder{w: w, name: name, format: format, n: n}
	hdr := AppendHeader(nil, format, n)
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	r.bytes = uint64(len(hdr))
	return r, nil
}

// Open creates the file at path, truncating any existing file. A path that
// names a directory, or an empty path, receives a file named after now.
func Open(path string, format Format, n int, now time.Time) (*Recorder, error) {
	if path == "" {
		path = "."
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, DefaultFileName(format, now))
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	r, err := New(f, path, format, n)
	if err != nil {
		f.Close()
		return nil, err
	}
	monitoring.Logf("Recording to %s in %s format", path, format)
	return r, nil
}

// WriteRecord appends rec. Records must carry the subcarrier count the
// recording was opened with.
func (r *Recorder) WriteRecord(rec *csi.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if rec.NSubcarriers != r.n {
		return fmt.Errorf("record has %d subcarriers, recording expects %d", rec.NSubcarriers, r.n)
	}
	r.buf = AppendRecord(r.buf[:0], r.format, rec)
	n, err := r.w.Write(r.buf)
	r.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	r.frames++
	return nil
}

// Close closes the underlying file. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	monitoring.Logf("Recording %s closed: %d frames, %d bytes", r.name, r.frames, r.bytes)
	return r.w.Close()
}

// Name returns the file path or the name given to New.
func (r *Recorder) Name() string { return r.name }

// Format returns the file layout.
func (r *Recorder) Format() Format { return r.format }

// Frames returns the number of frames written.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
