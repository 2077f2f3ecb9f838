package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
)

// BinaryReader reads WifEyeBinary files.
type BinaryReader struct {
	r   *bufio.Reader
	n   int
	buf []byte
}

// NewBinaryReader reads and checks the file header.
func NewBinaryReader(r io.Reader) (*BinaryReader, error) {
	br := bufio.NewReader(r)
	hdr := make([]byte, len(BinaryMagic)+4)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(hdr[:len(BinaryMagic)]) != BinaryMagic {
		return nil, fmt.Errorf("not a %s file", BinaryMagic)
	}
	n := int(binary.LittleEndian.Uint32(hdr[len(BinaryMagic):]))
	if n <= 0 || n > csi.MaxSubcarriers {
		return nil, fmt.Errorf("invalid subcarrier count %d", n)
	}
	return &BinaryReader{r: br, n: n, buf: make([]byte, BinaryRecordSize(n))}, nil
}

// Subcarriers returns the per-frame subcarrier count.
func (b *BinaryReader) Subcarriers() int { return b.n }

// Next decodes the next frame into rec. It returns io.EOF at the end of
// the file and io.ErrUnexpectedEOF for a truncated frame.
func (b *BinaryReader) Next(rec *csi.Record) error {
	if _, err := io.ReadFull(b.r, b.buf); err != nil {
		return err
	}
	p := b.buf
	sec := binary.LittleEndian.Uint64(p[0:])
	nsec := binary.LittleEndian.Uint64(p[8:])
	*rec = csi.Record{
		Timestamp:    time.Unix(int64(sec), int64(nsec)),
		Path:         csi.PathExport,
		RSSI:         math.Float64frombits(binary.LittleEndian.Uint64(p[22:])),
		FrameControl: p[30],
		NSubcarriers: b.n,
	}
	copy(rec.MAC[:], p[16:22])
	p = p[31:]
	for i := 0; i < b.n; i++ {
		rec.Amplitude[i] = math.Float64frombits(binary.LittleEndian.Uint64(p[i*16:]))
		rec.Phase[i] = math.Float64frombits(binary.LittleEndian.Uint64(p[i*16+8:]))
	}
	return nil
}
