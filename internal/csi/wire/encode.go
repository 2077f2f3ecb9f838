package wire

import (
	"encoding/binary"

	"github.com/banshee-data/csistudio/internal/csi"
)

// Header holds the fields written by AppendFrame.
type Header struct {
	Variant      Variant
	RSSI         int8
	FrameControl uint8
	MAC          csi.MAC
	SeqNr        uint16
	StreamNr     uint16
	ChanSpec     uint16
	ChipVersion  uint16
}

// Sample is one complex subcarrier measurement.
type Sample struct {
	Real int16
	Imag int16
}

// AppendFrame appends a raw firmware frame to b.
func AppendFrame(b []byte, h Header, samples []Sample) []byte {
	switch h.Variant {
	case VariantPlain:
		b = append(b, Magic, Magic, Magic, Magic)
	default:
		b = append(b, Magic, Magic, byte(h.RSSI), h.FrameControl)
	}
	b = append(b, h.MAC[:]...)
	b = binary.BigEndian.AppendUint16(b, h.SeqNr)
	b = binary.LittleEndian.AppendUint16(b, h.StreamNr)
	b = binary.LittleEndian.AppendUint16(b, h.ChanSpec)
	b = binary.LittleEndian.AppendUint16(b, h.ChipVersion)
	for _, s := range samples {
		b = binary.LittleEndian.AppendUint16(b, uint16(s.Real))
		b = binary.LittleEndian.AppendUint16(b, uint16(s.Imag))
	}
	return b
}

// AppendRelayFrame appends a timestamp prefix followed by the raw frame.
func AppendRelayFrame(b []byte, ts Timestamp, h Header, samples []Sample) []byte {
	return AppendFrame(AppendTimestamp(b, ts), h, samples)
}
