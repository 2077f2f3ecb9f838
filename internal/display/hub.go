// Package display fans the filtered display records out to live viewers:
// it keeps the latest frame per sender and pushes frames to subscribers
// without ever blocking the stream consumer.
package display

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

// DefaultMinInterval caps the per-sender push rate at 30 frames a second.
const DefaultMinInterval = time.Second / 30

// Hub is a stream.DisplaySink.
type Hub struct {
	mu          sync.Mutex
	latest      map[csi.MAC]*Frame
	lastPush    map[csi.MAC]time.Time
	subscribers map[string]chan *Frame
	closed      bool

	minInterval time.Duration
	clock       timeutil.Clock
}

// NewHub returns a hub pushing at most one frame per sender every
// minInterval. Zero selects DefaultMinInterval; a negative value disables
// the limit.
func NewHub(minInterval time.Duration, clock timeutil.Clock) *Hub {
	if minInterval == 0 {
		minInterval = DefaultMinInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hub{
		latest:      make(map[csi.MAC]*Frame),
		lastPush:    make(map[csi.MAC]time.Time),
		subscribers: make(map[string]chan *Frame),
		minInterval: minInterval,
		clock:       clock,
	}
}

func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Accept copies rec into the latest-frame cache and offers it to every
// subscriber. Slow subscribers miss frames.
func (h *Hub) Accept(rec *csi.Record) {
	f := NewFrame(rec)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest[rec.MAC] = f

	now := h.clock.Now()
	if h.minInterval > 0 {
		if last, ok := h.lastPush[rec.MAC]; ok && now.Sub(last) < h.minInterval {
			return
		}
	}
	h.lastPush[rec.MAC] = now
	for _, ch := range h.subscribers {
		select {
		case ch <- f:
		default:
		}
	}
}

// Subscribe returns an ID and a channel receiving pushed frames. The
// channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() (string, <-chan *Frame) {
	id := randomID()
	ch := make(chan *Frame, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Latest returns the most recent frame from mac.
func (h *Hub) Latest(mac csi.MAC) (*Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.latest[mac]
	return f, ok
}

// Senders lists the MACs with a cached frame, sorted.
func (h *Hub) Senders() []csi.MAC {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]csi.MAC, 0, len(h.latest))
	for m := range h.latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Clear drops the cache, for example after the stream is restarted.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = make(map[csi.MAC]*Frame)
	h.lastPush = make(map[csi.MAC]time.Time)
}

// Close closes every subscriber channel. Later frames are ignored.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	return nil
}
