package filter

import (
	"github.com/banshee-data/csistudio/internal/csi"
)

// cTm mirrors struct tm on 64-bit glibc and darwin.
type cTm struct {
	Sec    int32
	Min    int32
	Hour   int32
	Mday   int32
	Mon    int32
	Year   int32
	Wday   int32
	Yday   int32
	Isdst  int32
	_      int32
	Gmtoff int64
	Zone   uintptr
}

// cCSIData mirrors the C struct CSIData handed to filter_run. Go lays the
// fields out with the same natural alignment as the C compiler on 64-bit
// targets; cdata_test.go pins the offsets.
type cCSIData struct {
	TimeStamp        cTm
	SenderMAC        [7]uint8
	SeqNr            uint16
	StreamNr         uint16
	ChanSpec         uint16
	ChipVersion      uint16
	RSSI             float64
	FrameControl     uint8
	NSubCarriers     uint32
	NSubCarriersOrig uint32
	Amplitude        [csi.MaxSubcarriers]float64
	Phase            [csi.MaxSubcarriers]float64
}

// fill copies rec into d. The seventh MAC byte carries the path tag.
func (d *cCSIData) fill(rec *csi.Record) {
	t := rec.Timestamp.UTC()
	d.TimeStamp = cTm{
		Sec:   int32(t.Second()),
		Min:   int32(t.Minute()),
		Hour:  int32(t.Hour()),
		Mday:  int32(t.Day()),
		Mon:   int32(t.Month()) - 1,
		Year:  int32(t.Year()) - 1900,
		Wday:  int32(t.Weekday()),
		Yday:  int32(t.YearDay()) - 1,
		Isdst: 0,
	}
	copy(d.SenderMAC[:6], rec.MAC[:])
	d.SenderMAC[6] = uint8(rec.Path)
	d.SeqNr = rec.SeqNr
	d.StreamNr = rec.StreamNr
	d.ChanSpec = rec.ChanSpec
	d.ChipVersion = rec.ChipVersion
	d.RSSI = rec.RSSI
	d.FrameControl = rec.FrameControl
	d.NSubCarriers = uint32(rec.NSubcarriers)
	d.NSubCarriersOrig = uint32(rec.NativeSubcarriers)
	n := rec.NSubcarriers
	copy(d.Amplitude[:n], rec.Amplitude[:n])
	copy(d.Phase[:n], rec.Phase[:n])
}

// readBack copies the fields a filter may modify back into rec.
func (d *cCSIData) readBack(rec *csi.Record) {
	n := rec.NSubcarriers
	copy(rec.Amplitude[:n], d.Amplitude[:n])
	copy(rec.Phase[:n], d.Phase[:n])
	rec.RSSI = d.RSSI
}

// cString returns the NUL-terminated prefix of b.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// cBuffer returns a zeroed NUL-terminated copy of s sized to limit.
func cBuffer(s string, limit int) []byte {
	b := make([]byte, limit)
	copy(b, truncate(s, limit))
	return b
}
