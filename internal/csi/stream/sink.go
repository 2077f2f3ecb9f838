package stream

import (
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/csistudio/internal/csi"
)

// DisplaySink receives the filtered display record of every frame. Accept
// must not block and must copy the record if it keeps it.
type DisplaySink interface {
	Accept(rec *csi.Record)
}

// RecordingSink persists filtered export records. A returned error detaches
// the sink and stops recording. Implementations write each frame whole.
type RecordingSink interface {
	WriteRecord(rec *csi.Record) error
}

// ExportSink receives one serialized export record per frame and takes
// ownership of the payload. Accept must not block.
type ExportSink interface {
	Accept(payload []byte)
}

// ExportEncoder serializes a record for the live-export sink.
type ExportEncoder func(dst []byte, rec *csi.Record) []byte

// AllowList decides whether a sender may reach a sink.
type AllowList interface {
	IsAllowed(mac string) bool
}

// NoFilter is the allow-list entry that admits every sender.
const NoFilter = "No Filter"

// MACList is a mutable AllowList. Entries are normalized MAC strings; the
// NoFilter or "*" entry admits everything.
type MACList struct {
	mu   sync.RWMutex
	all  bool
	macs map[string]struct{}
}

// NewMACList builds a list from entries. Entries that do not parse as MAC
// addresses are returned in invalid and left out.
func NewMACList(entries ...string) (list *MACList, invalid []string) {
	l := &MACList{}
	invalid = l.Set(entries)
	return l, invalid
}

// Set replaces the entries and returns those that could not be parsed.
func (l *MACList) Set(entries []string) (invalid []string) {
	macs := make(map[string]struct{}, len(entries))
	all := false
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == NoFilter || e == "*" {
			all = true
			continue
		}
		m, err := csi.ParseMAC(e)
		if err != nil {
			invalid = append(invalid, e)
			continue
		}
		macs[m.String()] = struct{}{}
	}
	l.mu.Lock()
	l.all = all
	l.macs = macs
	l.mu.Unlock()
	return invalid
}

// Entries returns the normalized entries, NoFilter first when present.
func (l *MACList) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.macs)+1)
	for m := range l.macs {
		out = append(out, m)
	}
	sort.Strings(out)
	if l.all {
		out = append([]string{NoFilter}, out...)
	}
	return out
}

// IsAllowed reports whether mac is admitted. A nil list admits everything.
func (l *MACList) IsAllowed(mac string) bool {
	if l == nil {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.all {
		return true
	}
	if _, ok := l.macs[mac]; ok {
		return true
	}
	if m, err := csi.ParseMAC(mac); err == nil {
		_, ok := l.macs[m.String()]
		return ok
	}
	return false
}

func allowed(l AllowList, mac string) bool {
	return l == nil || l.IsAllowed(mac)
}
