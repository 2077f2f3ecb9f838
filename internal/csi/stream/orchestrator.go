// Package stream drives the consumer side of the CSI data path: it reads
// frames from a source, decodes each into a display and an export record,
// runs the filter pipeline over both and dispatches them to the sinks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/csi/filter"
	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/monitoring"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

var (
	// ErrProtocol wraps decode failures. They are fatal to the connection.
	ErrProtocol = errors.New("stream: protocol error")

	// ErrDisconnected reports that the peer closed the stream.
	ErrDisconnected = errors.New("stream: disconnected")

	// ErrBusy is returned by Run while another connection is active.
	ErrBusy = errors.New("stream: already running")
)

// Config wires an Orchestrator.
type Config struct {
	Decoder  *wire.Decoder
	Pipeline *filter.Pipeline

	Display        DisplaySink
	DisplayAllow   AllowList
	RecordingAllow AllowList
	ExportAllow    AllowList

	Metrics *monitoring.Metrics
	Clock   timeutil.Clock

	// OnEvent is called synchronously from the consumer goroutine and must
	// return quickly.
	OnEvent func(Event)
}

// Sender describes a sender MAC seen on the stream.
type Sender struct {
	MAC       string    `json:"mac"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Frames    uint64    `json:"frames"`
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State          string `json:"state"`
	Source         string `json:"source,omitempty"`
	Native         int    `json:"native_subcarriers"`
	DisplayLength  int    `json:"display_subcarriers"`
	ExportLength   int    `json:"export_subcarriers"`
	FramesDecoded  uint64 `json:"frames_decoded"`
	FramesRejected uint64 `json:"frames_rejected"`
	Recording      bool   `json:"recording"`
	Exporting      bool   `json:"exporting"`
	LastError      string `json:"last_error,omitempty"`
}

// Orchestrator processes one connection at a time. Frame handling and
// every control method share one mutex, so the pipeline and the sinks only
// change between frames and filters are never called concurrently.
type Orchestrator struct {
	mu sync.Mutex

	decoder  *wire.Decoder
	pipeline *filter.Pipeline

	display        DisplaySink
	displayAllow   AllowList
	recording      RecordingSink
	recordingAllow AllowList
	export         ExportSink
	encode         ExportEncoder
	exportAllow    AllowList

	metrics *monitoring.Metrics
	clock   timeutil.Clock
	onEvent func(Event)

	state    State
	running  bool
	source   string
	decoded  uint64
	rejected uint64
	lastErr  error
	senders  map[csi.MAC]*Sender

	displayRec csi.Record
	exportRec  csi.Record
}

// New validates cfg and returns an idle orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Decoder == nil {
		return nil, errors.New("stream: decoder is required")
	}
	o := &Orchestrator{
		decoder:        cfg.Decoder,
		pipeline:       cfg.Pipeline,
		display:        cfg.Display,
		displayAllow:   cfg.DisplayAllow,
		recordingAllow: cfg.RecordingAllow,
		exportAllow:    cfg.ExportAllow,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
		onEvent:        cfg.OnEvent,
		senders:        make(map[csi.MAC]*Sender),
	}
	if o.pipeline == nil {
		o.pipeline = filter.NewPipeline()
	}
	if o.clock == nil {
		o.clock = timeutil.RealClock{}
	}
	if o.onEvent == nil {
		o.onEvent = func(Event) {}
	}
	o.metrics.SetState(o.state.String(), stateNames)
	return o, nil
}

// Run performs one connection attempt: Connecting, Streaming until the
// source ends, then Disconnected or Error, then Idle. It never reconnects;
// the caller decides. A clean remote close returns ErrDisconnected,
// protocol errors wrap ErrProtocol and ctx cancellation returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, src Source) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrBusy
	}
	o.running = true
	o.source = src.String()
	o.setState(StateConnecting)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.setState(StateIdle)
		o.mu.Unlock()
	}()

	r, err := src.Open(ctx)
	if err != nil {
		return o.finish(ctx, fmt.Errorf("open %s: %w", src, err))
	}
	defer r.Close()

	o.mu.Lock()
	o.setState(StateStreaming)
	o.mu.Unlock()
	monitoring.Logf("Streaming from %s", src)

	for {
		ts, frame, err := r.Next()
		if err != nil {
			return o.finish(ctx, err)
		}
		if err := o.Process(ts, frame); err != nil {
			return o.finish(ctx, err)
		}
	}
}

// finish classifies the end of a connection and emits the stopped event.
func (o *Orchestrator) finish(ctx context.Context, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
		o.lastErr = nil
		o.setState(StateDisconnected)
		o.emit(Event{Kind: EventStreamStopped, State: StateDisconnected})
		return err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		o.lastErr = nil
		o.setState(StateDisconnected)
		o.emit(Event{Kind: EventStreamStopped, State: StateDisconnected})
		monitoring.Logf("Stream %s closed by peer", o.source)
		return ErrDisconnected
	default:
		o.lastErr = err
		o.setState(StateError)
		o.emit(Event{Kind: EventStreamStopped, State: StateError, Err: err})
		monitoring.Logf("Stream %s stopped: %v", o.source, err)
		return err
	}
}

// Process decodes one raw frame captured at ts, filters both records and
// dispatches them. A decode failure wraps ErrProtocol.
func (o *Orchestrator) Process(ts time.Time, frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.decoder.Decode(ts, frame, &o.displayRec, &o.exportRec); err != nil {
		o.rejected++
		if o.metrics != nil {
			o.metrics.FramesRejected.Inc()
		}
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	o.decoded++
	if o.metrics != nil {
		o.metrics.FramesDecoded.Inc()
	}
	o.noteSender(o.displayRec.MAC)

	o.pipeline.Apply(&o.displayRec)
	o.pipeline.Apply(&o.exportRec)

	mac := o.displayRec.MAC.String()
	if o.display != nil && allowed(o.displayAllow, mac) {
		o.display.Accept(&o.displayRec)
	}
	if o.recording != nil && allowed(o.recordingAllow, mac) {
		if err := o.recording.WriteRecord(&o.exportRec); err != nil {
			o.detachRecording(err)
		} else if o.metrics != nil {
			o.metrics.RecordedFrames.Inc()
		}
	}
	if o.export != nil && allowed(o.exportAllow, mac) {
		o.export.Accept(o.encode(nil, &o.exportRec))
	}
	return nil
}

func (o *Orchestrator) noteSender(mac csi.MAC) {
	now := o.clock.Now()
	s, ok := o.senders[mac]
	if !ok {
		s = &Sender{MAC: mac.String(), FirstSeen: now}
		o.senders[mac] = s
		o.emit(Event{Kind: EventNewSender, MAC: mac, State: o.state})
	}
	s.LastSeen = now
	s.Frames++
}

func (o *Orchestrator) detachRecording(err error) {
	monitoring.Logf("Recording stopped: %v", err)
	if c, ok := o.recording.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			monitoring.Logf("Closing recording: %v", cerr)
		}
	}
	o.recording = nil
	o.emit(Event{Kind: EventRecordingStopped, Err: err, State: o.state})
}

func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	o.state = s
	o.metrics.SetState(s.String(), stateNames)
	o.emit(Event{Kind: EventStateChanged, State: s})
}

func (o *Orchestrator) emit(e Event) {
	e.Time = o.clock.Now()
	o.onEvent(e)
}

// StartRecording attaches a recording sink. A previous sink is closed.
func (o *Orchestrator) StartRecording(sink RecordingSink) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.closeRecording(); err != nil {
		monitoring.Logf("Closing previous recording: %v", err)
	}
	o.recording = sink
	return nil
}

// StopRecording detaches and closes the recording sink.
func (o *Orchestrator) StopRecording() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeRecording()
}

func (o *Orchestrator) closeRecording() error {
	if o.recording == nil {
		return nil
	}
	var err error
	if c, ok := o.recording.(io.Closer); ok {
		err = c.Close()
	}
	o.recording = nil
	return err
}

// SetExport attaches a live-export sink with its encoder. A nil sink
// detaches the current one.
func (o *Orchestrator) SetExport(sink ExportSink, enc ExportEncoder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sink != nil && enc == nil {
		panic("stream: SetExport requires an encoder")
	}
	o.export = sink
	o.encode = enc
}

// SetDisplay replaces the display sink.
func (o *Orchestrator) SetDisplay(sink DisplaySink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.display = sink
}

// WithPipeline runs fn with exclusive access to the filter pipeline,
// between frames.
func (o *Orchestrator) WithPipeline(fn func(p *filter.Pipeline) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fn(o.pipeline)
}

// ReplacePipeline swaps the pipeline and closes the previous one.
func (o *Orchestrator) ReplacePipeline(p *filter.Pipeline) error {
	o.mu.Lock()
	old := o.pipeline
	o.pipeline = p
	o.mu.Unlock()
	return old.Close()
}

// Senders returns the senders seen so far, sorted by MAC.
func (o *Orchestrator) Senders() []Sender {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Sender, 0, len(o.senders))
	for _, s := range o.senders {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot for the control API.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg := o.decoder.Config()
	display, export := o.decoder.Windows()
	st := Status{
		State:          o.state.String(),
		Source:         o.source,
		Native:         cfg.NativeSubcarriers,
		DisplayLength:  display.Len(),
		ExportLength:   export.Len(),
		FramesDecoded:  o.decoded,
		FramesRejected: o.rejected,
		Recording:      o.recording != nil,
		Exporting:      o.export != nil,
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	return st
}

// Close stops recording and unloads the filters.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return errors.Join(o.closeRecording(), o.pipeline.Close())
}
