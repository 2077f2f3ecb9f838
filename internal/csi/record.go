// Package csi defines the decoded Channel State Information record that
// flows from the wire decoder through the filter pipeline to the sinks.
package csi

import (
	"fmt"
	"net"
	"time"
)

// MaxSubcarriers is the capacity of the amplitude and phase arrays. Only the
// first Record.NSubcarriers entries are meaningful.
const MaxSubcarriers = 512

// Supported native capture lengths.
const (
	Subcarriers64  = 64
	Subcarriers128 = 128
	Subcarriers256 = 256
)

// PathTag distinguishes the two logical consumers of one decoded frame.
type PathTag uint8

const (
	PathDisplay PathTag = 0
	PathExport  PathTag = 1
)

func (p PathTag) String() string {
	switch p {
	case PathDisplay:
		return "display"
	case PathExport:
		return "export"
	default:
		return fmt.Sprintf("path(%d)", uint8(p))
	}
}

// MAC is a 6-byte sender hardware address.
type MAC [6]byte

// String formats the address as lowercase colon separated hex.
func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// ParseMAC parses any form accepted by net.ParseMAC that yields 6 bytes.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, err
	}
	if len(hw) != len(m) {
		return m, fmt.Errorf("mac %q: want 6 bytes, got %d", s, len(hw))
	}
	copy(m[:], hw)
	return m, nil
}

// SenderKey identifies one sender on one path. Filters keeping per-sender
// state key it by SenderKey so the display and export invocations of the
// same frame never share state.
type SenderKey struct {
	MAC  MAC
	Path PathTag
}

func (k SenderKey) String() string {
	return fmt.Sprintf("%s/%s", k.MAC, k.Path)
}

// Record is one decoded frame on one path. Filters may rewrite Amplitude,
// Phase and RSSI. Every other field is read-only once the decoder populated it.
type Record struct {
	Timestamp    time.Time
	MAC          MAC
	Path         PathTag
	SeqNr        uint16
	StreamNr     uint16
	ChanSpec     uint16
	ChipVersion  uint16
	RSSI         float64
	FrameControl uint8

	// NSubcarriers is the populated window length, NativeSubcarriers the
	// length captured by the firmware.
	NSubcarriers      int
	NativeSubcarriers int

	Amplitude [MaxSubcarriers]float64
	Phase     [MaxSubcarriers]float64
}

// Key returns the per-path sender identity of the record.
func (r *Record) Key() SenderKey {
	return SenderKey{MAC: r.MAC, Path: r.Path}
}

// Amplitudes returns the populated amplitude window.
func (r *Record) Amplitudes() []float64 {
	return r.Amplitude[:r.NSubcarriers]
}

// Phases returns the populated phase window.
func (r *Record) Phases() []float64 {
	return r.Phase[:r.NSubcarriers]
}

// Validate checks the subcarrier count ordering.
func (r *Record) Validate() error {
	if r.NSubcarriers < 0 || r.NSubcarriers > r.NativeSubcarriers || r.NativeSubcarriers > MaxSubcarriers {
		return fmt.Errorf("invalid subcarrier counts: populated %d, native %d, max %d",
			r.NSubcarriers, r.NativeSubcarriers, MaxSubcarriers)
	}
	return nil
}
