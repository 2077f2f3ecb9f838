// Package wire decodes the firmware CSI frame format relayed by the ingest
// bridge into per-path csi.Records.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
)

// Frame layout constants.
const (
	Magic      byte = 0x11
	HeaderSize      = 18
	SampleSize      = 4

	offMAC         = 4
	offSeqNr       = 10
	offStreamNr    = 12
	offChanSpec    = 14
	offChipVersion = 16
)

var (
	// ErrBadMagic means the frame does not start with the expected marker.
	// The stream is out of sync and the connection must be dropped.
	ErrBadMagic = errors.New("wire: magic marker mismatch")

	// ErrShortFrame means fewer bytes were supplied than the frame needs.
	ErrShortFrame = errors.New("wire: short frame")
)

// Variant selects the frame marker layout.
type Variant int

const (
	// VariantRSSI frames start with 0x11 0x11, a signed RSSI byte and the
	// frame-control byte.
	VariantRSSI Variant = iota
	// VariantPlain frames start with 0x11 0x11 0x11 0x11; RSSI and frame
	// control are reported as zero.
	VariantPlain
)

func (v Variant) String() string {
	switch v {
	case VariantRSSI:
		return "rssi"
	case VariantPlain:
		return "plain"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant maps "rssi" or "plain" to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rssi":
		return VariantRSSI, nil
	case "plain":
		return VariantPlain, nil
	}
	return 0, fmt.Errorf("unknown wire variant %q (want rssi or plain)", s)
}

// FrameSize returns the raw frame length for a native subcarrier count.
func FrameSize(native int) int {
	return HeaderSize + SampleSize*native
}

// RelayFrameSize returns the timestamped frame length carried over TCP.
func RelayFrameSize(native int) int {
	return TimestampSize + FrameSize(native)
}

// Config fixes the stream parameters of a Decoder.
type Config struct {
	Variant           Variant
	NativeSubcarriers int
	DisplayLength     int
	ExportLength      int
}

// Validate checks that the native length is a supported capture bandwidth.
func (c Config) Validate() error {
	switch c.NativeSubcarriers {
	case csi.Subcarriers64, csi.Subcarriers128, csi.Subcarriers256:
	default:
		return fmt.Errorf("unsupported native subcarrier count %d (want 64, 128 or 256)", c.NativeSubcarriers)
	}
	if c.DisplayLength < 0 || c.ExportLength < 0 {
		return fmt.Errorf("negative target length (display %d, export %d)", c.DisplayLength, c.ExportLength)
	}
	if c.Variant != VariantRSSI && c.Variant != VariantPlain {
		return fmt.Errorf("unknown wire variant %d", int(c.Variant))
	}
	return nil
}

// Decoder turns raw frames into a display record and an export record.
// A Decoder holds no per-frame state and may be reused for every frame.
type Decoder struct {
	cfg     Config
	display Window
	export  Window
	union   Window
}

// NewDecoder validates cfg and precomputes the subcarrier windows.
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Decoder{
		cfg:     cfg,
		display: SelectWindow(cfg.NativeSubcarriers, cfg.DisplayLength),
		export:  SelectWindow(cfg.NativeSubcarriers, cfg.ExportLength),
	}
	d.union = Union(d.display, d.export)
	return d, nil
}

// Config returns the decoder configuration.
func (d *Decoder) Config() Config { return d.cfg }

// Windows returns the display and export windows in native indices.
func (d *Decoder) Windows() (display, export Window) { return d.display, d.export }

// FrameSize returns the raw frame length this decoder expects.
func (d *Decoder) FrameSize() int { return FrameSize(d.cfg.NativeSubcarriers) }

// RelayFrameSize returns the timestamped frame length this decoder expects.
func (d *Decoder) RelayFrameSize() int { return RelayFrameSize(d.cfg.NativeSubcarriers) }

// DecodeRelay decodes a timestamped relay frame.
func (d *Decoder) DecodeRelay(b []byte, display, export *csi.Record) error {
	ts, err := ParseTimestamp(b)
	if err != nil {
		return err
	}
	return d.Decode(ts.Time(), b[TimestampSize:], display, export)
}

// Decode parses one raw frame captured at ts and fills both records. The
// display record carries PathDisplay and the export record PathExport.
// Amplitude and phase are computed once per subcarrier of the union of both
// windows and re-based to index 0 in each record.
func (d *Decoder) Decode(ts time.Time, frame []byte, display, export *csi.Record) error {
	native := d.cfg.NativeSubcarriers
	if len(frame) < 4 {
		return fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}

	var rssi float64
	var fc uint8
	switch d.cfg.Variant {
	case VariantRSSI:
		if frame[0] != Magic || frame[1] != Magic {
			return fmt.Errorf("%w: got % x", ErrBadMagic, frame[:2])
		}
		rssi = float64(int8(frame[2]))
		fc = frame[3]
	case VariantPlain:
		if frame[0] != Magic || frame[1] != Magic || frame[2] != Magic || frame[3] != Magic {
			return fmt.Errorf("%w: got % x", ErrBadMagic, frame[:4])
		}
	}

	if len(frame) < FrameSize(native) {
		return fmt.Errorf("%w: need %d bytes for %d subcarriers, got %d",
			ErrShortFrame, FrameSize(native), native, len(frame))
	}

	fillHeader(display, ts, frame, rssi, fc, native)
	display.Path = csi.PathDisplay
	display.NSubcarriers = d.display.Len()

	*export = *display
	export.Path = csi.PathExport
	export.NSubcarriers = d.export.Len()

	payload := frame[HeaderSize:]
	for i := d.union.Begin; i <= d.union.End; i++ {
		off := i * SampleSize
		re := float64(int16(binary.LittleEndian.Uint16(payload[off:])))
		im := float64(int16(binary.LittleEndian.Uint16(payload[off+2:])))
		amp := math.Sqrt(re*re + im*im)
		phase := math.Atan2(im, re)
		if d.display.Contains(i) {
			display.Amplitude[i-d.display.Begin] = amp
			display.Phase[i-d.display.Begin] = phase
		}
		if d.export.Contains(i) {
			export.Amplitude[i-d.export.Begin] = amp
			export.Phase[i-d.export.Begin] = phase
		}
	}
	return nil
}

// The sequence number is big-endian; the remaining header words are
// little-endian as emitted by the firmware.
func fillHeader(r *csi.Record, ts time.Time, frame []byte, rssi float64, fc uint8, native int) {
	r.Timestamp = ts
	copy(r.MAC[:], frame[offMAC:offMAC+6])
	r.SeqNr = binary.BigEndian.Uint16(frame[offSeqNr:])
	r.StreamNr = binary.LittleEndian.Uint16(frame[offStreamNr:])
	r.ChanSpec = binary.LittleEndian.Uint16(frame[offChanSpec:])
	r.ChipVersion = binary.LittleEndian.Uint16(frame[offChipVersion:])
	r.RSSI = rssi
	r.FrameControl = fc
	r.NativeSubcarriers = native
}
