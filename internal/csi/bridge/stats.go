package bridge

import (
	"sync"
	"time"

	"github.com/banshee-data/csistudio/internal/monitoring"
)

// Stats collects relay statistics.
type Stats interface {
	AddDatagram(bytes int)
	AddRelayed(bytes int)
	AddDropped(bytes int)
	AddConnection()
	LogStats()
}

// RelayStats counts relay traffic between log reports and mirrors every
// update into Prometheus counters when metrics are configured.
type RelayStats struct {
	mu          sync.Mutex
	datagrams   int64
	bytesIn     int64
	relayed     int64
	dropped     int64
	connections int64
	lastReset   time.Time

	metrics *monitoring.Metrics
}

// NewRelayStats creates a RelayStats. metrics may be nil.
func NewRelayStats(metrics *monitoring.Metrics) *RelayStats {
	return &RelayStats{lastReset: time.Now(), metrics: metrics}
}

// AddDatagram counts one received datagram.
func (s *RelayStats) AddDatagram(bytes int) {
	s.mu.Lock()
	s.datagrams++
	s.bytesIn += int64(bytes)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BridgeDatagrams.Inc()
	}
}

// AddRelayed counts bytes written to the TCP client.
func (s *RelayStats) AddRelayed(bytes int) {
	s.mu.Lock()
	s.relayed += int64(bytes)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BridgeBytes.Add(float64(bytes))
	}
}

// AddDropped counts bytes the ring buffer could not store.
func (s *RelayStats) AddDropped(bytes int) {
	if bytes <= 0 {
		return
	}
	s.mu.Lock()
	s.dropped += int64(bytes)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BridgeDroppedBytes.Add(float64(bytes))
	}
}

// AddConnection counts an accepted client.
func (s *RelayStats) AddConnection() {
	s.mu.Lock()
	s.connections++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BridgeConnections.Inc()
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Datagrams   int64
	BytesIn     int64
	Relayed     int64
	Dropped     int64
	Connections int64
	Duration    time.Duration
}

// GetAndReset returns the counters accumulated since the last call.
func (s *RelayStats) GetAndReset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	snap := Snapshot{
		Datagrams:   s.datagrams,
		BytesIn:     s.bytesIn,
		Relayed:     s.relayed,
		Dropped:     s.dropped,
		Connections: s.connections,
		Duration:    now.Sub(s.lastReset),
	}
	s.datagrams, s.bytesIn, s.relayed, s.dropped, s.connections = 0, 0, 0, 0, 0
	s.lastReset = now
	return snap
}

// LogStats logs and resets the counters.
func (s *RelayStats) LogStats() {
	snap := s.GetAndReset()
	secs := snap.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	monitoring.Logf("Bridge: %d datagrams (%.1f/s), %.2f MB in, %.2f MB relayed, %d bytes dropped, %d new clients",
		snap.Datagrams, float64(snap.Datagrams)/secs,
		float64(snap.BytesIn)/1e6, float64(snap.Relayed)/1e6, snap.Dropped, snap.Connections)
}

type noopStats struct{}

func (noopStats) AddDatagram(int) {}
func (noopStats) AddRelayed(int)  {}
func (noopStats) AddDropped(int)  {}
func (noopStats) AddConnection()  {}
func (noopStats) LogStats()       {}
