// Package recorder writes filtered export records to files in the simple
// CSV, compact CSV or WifEyeBinary layout.
package recorder

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
)

// Format selects a file layout.
type Format string

const (
	FormatSimpleCSV  Format = "csv-simple"
	FormatCompactCSV Format = "csv-compact"
	FormatBinary     Format = "binary"
)

// BinaryMagic opens every WifEyeBinary file.
const BinaryMagic = "WifEyeBinary"

// SimpleCSVHeader is the first line of a simple CSV file. Live-export
// payloads use the same per-subcarrier line layout without the header.
const SimpleCSVHeader = "timestamp;MAC;subcarrier;amplitude;phase;RSSI;frame_control\n"

// ParseFormat accepts the names used in configuration files.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatSimpleCSV, FormatCompactCSV, FormatBinary:
		return Format(s), nil
	case "":
		return FormatSimpleCSV, nil
	}
	return "", fmt.Errorf("unknown record format %q", s)
}

// Extension returns the default file extension for f.
func (f Format) Extension() string {
	if f == FormatBinary {
		return ".wbin"
	}
	return ".csv"
}

// DefaultFileName names a recording after its start time, for example
// CSI_March_7_24_14:05:09.csv.
func DefaultFileName(f Format, t time.Time) string {
	return fmt.Sprintf("CSI_%s_%d_%02d_%s%s", t.Month(), t.Day(), t.Year()%100, t.Format("15:04:05"), f.Extension())
}

// AppendTimestamp formats t in UTC as YYYY-MM-DD HH:MM:SS:uuuuuu.
func AppendTimestamp(dst []byte, t time.Time) []byte {
	t = t.UTC()
	dst = t.AppendFormat(dst, "2006-01-02 15:04:05")
	dst = append(dst, ':')
	us := t.Nanosecond() / 1000
	for div := 100000; div > 0; div /= 10 {
		dst = append(dst, byte('0'+us/div%10))
	}
	return dst
}

// AppendHeader appends the file header for a recording of n subcarriers.
func AppendHeader(dst []byte, f Format, n int) []byte {
	switch f {
	case FormatCompactCSV:
		dst = append(dst, "timestamp;MAC;RSSI;frame_control"...)
		for i := 0; i < n; i++ {
			dst = append(dst, ";a"...)
			dst = strconv.AppendInt(dst, int64(i), 10)
			dst = append(dst, ";p"...)
			dst = strconv.AppendInt(dst, int64(i), 10)
		}
		return append(dst, '\n')
	case FormatBinary:
		dst = append(dst, BinaryMagic...)
		return binary.LittleEndian.AppendUint32(dst, uint32(n))
	default:
		return append(dst, SimpleCSVHeader...)
	}
}

// AppendRecord appends one frame in layout f.
func AppendRecord(dst []byte, f Format, rec *csi.Record) []byte {
	switch f {
	case FormatCompactCSV:
		return appendCompact(dst, rec)
	case FormatBinary:
		return appendBinary(dst, rec)
	default:
		return AppendSimpleCSV(dst, rec)
	}
}

// AppendSimpleCSV appends one line per subcarrier:
// timestamp;MAC;index;amplitude;phase;RSSI;frame_control.
func AppendSimpleCSV(dst []byte, rec *csi.Record) []byte {
	ts := AppendTimestamp(make([]byte, 0, 26), rec.Timestamp)
	mac := rec.MAC.String()
	for i := 0; i < rec.NSubcarriers; i++ {
		dst = append(dst, ts...)
		dst = append(dst, ';')
		dst = append(dst, mac...)
		dst = append(dst, ';')
		dst = strconv.AppendInt(dst, int64(i), 10)
		dst = append(dst, ';')
		dst = appendFloat(dst, rec.Amplitude[i])
		dst = append(dst, ';')
		dst = appendFloat(dst, rec.Phase[i])
		dst = append(dst, ';')
		dst = appendFloat(dst, rec.RSSI)
		dst = append(dst, ';')
		dst = strconv.AppendUint(dst, uint64(rec.FrameControl), 10)
		dst = append(dst, '\n')
	}
	return dst
}

func appendCompact(dst []byte, rec *csi.Record) []byte {
	dst = AppendTimestamp(dst, rec.Timestamp)
	dst = append(dst, ';')
	dst = append(dst, rec.MAC.String()...)
	dst = append(dst, ';')
	dst = appendFloat(dst, rec.RSSI)
	dst = append(dst, ';')
	dst = strconv.AppendUint(dst, uint64(rec.FrameControl), 10)
	for i := 0; i < rec.NSubcarriers; i++ {
		dst = append(dst, ';')
		dst = appendFloat(dst, rec.Amplitude[i])
		dst = append(dst, ';')
		dst = appendFloat(dst, rec.Phase[i])
	}
	return append(dst, '\n')
}

// BinaryRecordSize is the size of one WifEyeBinary frame of n subcarriers.
func BinaryRecordSize(n int) int {
	return 16 + 6 + 8 + 1 + n*16
}

func appendBinary(dst []byte, rec *csi.Record) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(rec.Timestamp.Unix()))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(rec.Timestamp.Nanosecond()))
	dst = append(dst, rec.MAC[:]...)
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(rec.RSSI))
	dst = append(dst, rec.FrameControl)
	for i := 0; i < rec.NSubcarriers; i++ {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(rec.Amplitude[i]))
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(rec.Phase[i]))
	}
	return dst
}

func appendFloat(dst []byte, v float64) []byte {
	return strconv.AppendFloat(dst, v, 'f', 10, 64)
}
