package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func testRecord() *csi.Record {
	rec := &csi.Record{
		Timestamp:    time.Date(2024, time.March, 7, 14, 5, 9, 500000, time.UTC),
		MAC:          csi.MAC{1, 2, 3, 4, 5, 6},
		Path:         csi.PathExport,
		SeqNr:        77,
		RSSI:         -55,
		FrameControl: 0x88,
		NSubcarriers: 3,
	}
	for i := 0; i < 3; i++ {
		rec.Amplitude[i] = float64(i) + 0.5
		rec.Phase[i] = -float64(i)
	}
	return rec
}

func TestEncodeCSV(t *testing.T) {
	out := string(EncodeCSV(nil, testRecord()))
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "2024-03-07 14:05:09:000500;01:02:03:04:05:06;2;2.5000000000;-2.0000000000;-55.0000000000;136", lines[2])
}

func TestEncodeProto(t *testing.T) {
	in := testRecord()
	buf := EncodeProto(nil, in)
	buf = EncodeProto(buf, in)

	var got csi.Record
	n, err := DecodeProto(buf, &got)
	require.NoError(t, err)
	assert.Less(t, n, len(buf))
	assert.True(t, got.Timestamp.Equal(in.Timestamp))
	assert.Equal(t, in.MAC, got.MAC)
	assert.Equal(t, in.SeqNr, got.SeqNr)
	assert.Equal(t, in.RSSI, got.RSSI)
	assert.Equal(t, in.FrameControl, got.FrameControl)
	assert.Equal(t, in.Amplitudes(), got.Amplitudes())
	assert.Equal(t, in.Phases(), got.Phases())

	m, err := DecodeProto(buf[n:], &got)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n+m)

	_, err = DecodeProto(buf[:5], &got)
	assert.Error(t, err)
}

func TestEncoder(t *testing.T) {
	for _, f := range []Format{FormatCSV, FormatProto, ""} {
		enc, err := Encoder(f)
		require.NoError(t, err, f)
		assert.NotEmpty(t, enc(nil, testRecord()))
	}
	_, err := Encoder("xml")
	assert.Error(t, err)
}

type fakePublisher struct {
	mu       sync.Mutex
	got      [][]byte
	block    chan struct{}
	fail     error
	closed   bool
	closeErr error
}

func (f *fakePublisher) Publish(p []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, p)
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakePublisher) String() string { return "fake" }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestExporter_DeliversInOrder(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, Config{QueueSize: 10})
	e.Start(context.Background())

	for i := 0; i < 5; i++ {
		e.Accept([]byte{byte(i)})
	}
	require.NoError(t, e.Close())
	require.Equal(t, 5, pub.count())
	for i, p := range pub.got {
		assert.Equal(t, []byte{byte(i)}, p)
	}
	assert.True(t, pub.closed)

	sent, failed, dropped := e.Stats()
	assert.Equal(t, uint64(5), sent)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
}

func TestExporter_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	metrics := monitoring.NewMetrics()
	e := New(pub, Config{QueueSize: 2, Metrics: metrics})
	e.Start(context.Background())

	// One payload is taken by the blocked publisher, two fill the queue.
	e.Accept([]byte("a"))
	require.Eventually(t, func() bool { return len(e.queue) == 0 }, time.Second, time.Millisecond)
	for _, p := range []string{"b", "c", "d", "e"} {
		e.Accept([]byte(p))
	}

	_, _, dropped := e.Stats()
	assert.Equal(t, uint64(2), dropped)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ExportDropped))

	close(pub.block)
	require.NoError(t, e.Close())
	assert.Equal(t, 3, pub.count())
}

func TestExporter_CountsFailures(t *testing.T) {
	pub := &fakePublisher{fail: errors.New("broken pipe")}
	e := New(pub, Config{QueueSize: 4})
	e.Start(context.Background())
	e.Accept([]byte("a"))
	e.Accept([]byte("b"))
	require.NoError(t, e.Close())

	_, failed, _ := e.Stats()
	assert.Equal(t, uint64(2), failed)
}

func TestExporter_CloseWithoutStart(t *testing.T) {
	pub := &fakePublisher{closeErr: errors.New("close failed")}
	e := New(pub, Config{})
	assert.EqualError(t, e.Close(), "close failed")
	assert.NoError(t, e.Close())
}

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func TestWriterPublisher(t *testing.T) {
	w := &bufCloser{}
	p := &WriterPublisher{W: w, Name: "buffer"}
	require.NoError(t, p.Publish([]byte("x;y\n")))
	require.NoError(t, p.Close())
	assert.Equal(t, "x;y\n", w.String())
	assert.True(t, w.closed)
	assert.Equal(t, "buffer", p.String())
}

func TestCommandPublisher(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	var out bytes.Buffer
	p, err := StartCommand(&out, os.Stderr, "cat")
	require.NoError(t, err)
	require.NoError(t, p.Publish(EncodeCSV(nil, testRecord())))
	require.NoError(t, p.Close())
	assert.Equal(t, string(EncodeCSV(nil, testRecord())), out.String())
}

func TestDialNATS_Errors(t *testing.T) {
	_, err := DialNATS("nats://127.0.0.1:4222", "")
	assert.Error(t, err)
	_, err = DialNATS("nats://127.0.0.1:1", "csi.frames")
	assert.Error(t, err)
}
