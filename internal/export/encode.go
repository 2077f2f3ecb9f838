// Package export serializes filtered export records for an external
// classifier and delivers them through a bounded asynchronous queue.
package export

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/csi/stream"
	"github.com/banshee-data/csistudio/internal/recorder"
)

// Format names a payload encoding.
type Format string

const (
	// FormatCSV emits one simple-CSV line per subcarrier.
	FormatCSV Format = "csv"
	// FormatProto emits one length-prefixed protobuf message per frame.
	FormatProto Format = "proto"
)

// Encoder returns the encoder for f.
func Encoder(f Format) (stream.ExportEncoder, error) {
	switch f {
	case FormatCSV, "":
		return EncodeCSV, nil
	case FormatProto:
		return EncodeProto, nil
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// EncodeCSV appends the frame as simple-CSV lines.
func EncodeCSV(dst []byte, rec *csi.Record) []byte {
	return recorder.AppendSimpleCSV(dst, rec)
}

// Field numbers of the export message:
//
//	message Frame {
//	  int64  timestamp_ns  = 1;
//	  bytes  mac           = 2;
//	  double rssi          = 3;
//	  uint32 frame_control = 4;
//	  uint32 seq_nr        = 5;
//	  repeated double amplitude = 6 [packed = true];
//	  repeated double phase     = 7 [packed = true];
//	}
const (
	fieldTimestamp    protowire.Number = 1
	fieldMAC          protowire.Number = 2
	fieldRSSI         protowire.Number = 3
	fieldFrameControl protowire.Number = 4
	fieldSeqNr        protowire.Number = 5
	fieldAmplitude    protowire.Number = 6
	fieldPhase        protowire.Number = 7
)

// EncodeProto appends a varint length prefix followed by the Frame message.
func EncodeProto(dst []byte, rec *csi.Record) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldTimestamp, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(rec.Timestamp.UnixNano()))
	msg = protowire.AppendTag(msg, fieldMAC, protowire.BytesType)
	msg = protowire.AppendBytes(msg, rec.MAC[:])
	msg = protowire.AppendTag(msg, fieldRSSI, protowire.Fixed64Type)
	msg = protowire.AppendFixed64(msg, math.Float64bits(rec.RSSI))
	msg = protowire.AppendTag(msg, fieldFrameControl, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(rec.FrameControl))
	msg = protowire.AppendTag(msg, fieldSeqNr, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(rec.SeqNr))
	msg = appendPacked(msg, fieldAmplitude, rec.Amplitudes())
	msg = appendPacked(msg, fieldPhase, rec.Phases())
	return protowire.AppendBytes(dst, msg)
}

func appendPacked(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)*8))
	for _, v := range vs {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// DecodeProto parses one length-prefixed Frame from b into rec and returns
// the number of bytes consumed. Unknown fields are skipped.
func DecodeProto(b []byte, rec *csi.Record) (int, error) {
	msg, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*rec = csi.Record{Path: csi.PathExport}
	var amps, phases int
	for len(msg) > 0 {
		num, typ, m := protowire.ConsumeTag(msg)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		msg = msg[m:]
		switch {
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			rec.Timestamp = time.Unix(0, int64(v))
			msg = msg[m:]
		case num == fieldMAC && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			copy(rec.MAC[:], v)
			msg = msg[m:]
		case num == fieldRSSI && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			rec.RSSI = math.Float64frombits(v)
			msg = msg[m:]
		case num == fieldFrameControl && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			rec.FrameControl = uint8(v)
			msg = msg[m:]
		case num == fieldSeqNr && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			rec.SeqNr = uint16(v)
			msg = msg[m:]
		case (num == fieldAmplitude || num == fieldPhase) && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			dst, count := rec.Amplitude[:], &amps
			if num == fieldPhase {
				dst, count = rec.Phase[:], &phases
			}
			if len(v)%8 != 0 {
				return 0, errors.New("export: malformed packed doubles")
			}
			for len(v) > 0 {
				f, k := protowire.ConsumeFixed64(v)
				if k < 0 || *count >= len(dst) {
					return 0, errors.New("export: malformed packed doubles")
				}
				dst[*count] = math.Float64frombits(f)
				*count++
				v = v[k:]
			}
			msg = msg[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, msg)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			msg = msg[m:]
		}
	}
	if amps != phases {
		return 0, fmt.Errorf("export: %d amplitudes but %d phases", amps, phases)
	}
	rec.NSubcarriers = amps
	return n, nil
}
