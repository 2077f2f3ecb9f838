package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/csistudio/internal/monitoring"
)

// PCAPSource replays firmware datagrams from a capture file (pcap or
// pcapng). Only UDP payloads sent to Port are returned, stamped with their
// capture time. With Realtime set, replay sleeps to honour the original
// inter-packet gaps.
type PCAPSource struct {
	Path     string
	Port     uint16
	Realtime bool
}

func (s *PCAPSource) String() string { return "pcap://" + s.Path }

type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Open opens the capture file.
func (s *PCAPSource) Open(ctx context.Context) (FrameReader, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", s.Path, err)
	}

	var src packetDataSource
	var link layers.LinkType
	if strings.EqualFold(filepath.Ext(s.Path), ".pcapng") {
		r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read pcapng header: %w", err)
		}
		src, link = r, r.LinkType()
	} else {
		r, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read pcap header: %w", err)
		}
		src, link = r, r.LinkType()
	}

	monitoring.Logf("Replaying PCAP %s (UDP port %d, link %s)", s.Path, s.Port, link)
	return &pcapReader{ctx: ctx, file: f, src: src, link: link, port: layers.UDPPort(s.Port), realtime: s.Realtime}, nil
}

type pcapReader struct {
	ctx      context.Context
	file     *os.File
	src      packetDataSource
	link     layers.LinkType
	port     layers.UDPPort
	realtime bool

	packets  int
	lastCap  time.Time
	lastWall time.Time
}

func (r *pcapReader) Next() (time.Time, []byte, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return time.Time{}, nil, err
		}
		data, ci, err := r.src.ReadPacketData()
		if err == io.EOF {
			monitoring.Logf("PCAP replay complete: %d packets", r.packets)
			return time.Time{}, nil, io.EOF
		}
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("error reading packet: %w", err)
		}
		r.packets++

		packet := gopacket.NewPacket(data, r.link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, _ := udpLayer.(*layers.UDP)
		if udp.DstPort != r.port || len(udp.Payload) == 0 {
			continue
		}

		r.pace(ci.Timestamp)
		return ci.Timestamp, udp.Payload, nil
	}
}

func (r *pcapReader) pace(capture time.Time) {
	if !r.realtime {
		return
	}
	now := time.Now()
	if !r.lastCap.IsZero() {
		want := capture.Sub(r.lastCap)
		if elapsed := now.Sub(r.lastWall); want > elapsed {
			select {
			case <-time.After(want - elapsed):
			case <-r.ctx.Done():
			}
		}
	}
	r.lastCap = capture
	r.lastWall = time.Now()
}

func (r *pcapReader) Close() error { return r.file.Close() }
