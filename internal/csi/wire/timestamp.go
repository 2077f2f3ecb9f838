package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// TimestampSize is the fixed width of the relay timestamp prefix.
const TimestampSize = 16

// Timestamp is the wall-clock capture time prepended by the bridge: seconds
// and nanoseconds as two big-endian uint64 values, independent of the host's
// native clock struct layout.
type Timestamp struct {
	Sec  uint64
	Nsec uint64
}

// TimestampFromTime converts t to its wire form.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Sec: uint64(t.Unix()), Nsec: uint64(t.Nanosecond())}
}

// Time reconstructs the host timestamp.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Sec), int64(ts.Nsec))
}

// AppendTimestamp appends the 16-byte wire encoding of ts to b.
func AppendTimestamp(b []byte, ts Timestamp) []byte {
	b = binary.BigEndian.AppendUint64(b, ts.Sec)
	return binary.BigEndian.AppendUint64(b, ts.Nsec)
}

// ParseTimestamp decodes the first 16 bytes of b.
func ParseTimestamp(b []byte) (Timestamp, error) {
	if len(b) < TimestampSize {
		return Timestamp{}, fmt.Errorf("%w: timestamp needs %d bytes, got %d", ErrShortFrame, TimestampSize, len(b))
	}
	ts := Timestamp{
		Sec:  binary.BigEndian.Uint64(b[0:8]),
		Nsec: binary.BigEndian.Uint64(b[8:16]),
	}
	if ts.Nsec >= uint64(time.Second) {
		return ts, fmt.Errorf("timestamp nanoseconds out of range: %d", ts.Nsec)
	}
	return ts, nil
}
