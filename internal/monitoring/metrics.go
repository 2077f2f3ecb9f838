package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus collectors shared by the bridge and the
// stream host. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	BridgeDatagrams    prometheus.Counter
	BridgeBytes        prometheus.Counter
	BridgeDroppedBytes prometheus.Counter
	BridgeConnections  prometheus.Counter

	FramesDecoded  prometheus.Counter
	FramesRejected prometheus.Counter
	StreamState    *prometheus.GaugeVec
	FilterRuns     *prometheus.CounterVec
	FilterPanics   *prometheus.CounterVec
	ExportDropped  prometheus.Counter
	RecordedFrames prometheus.Counter
}

// NewMetrics creates a registry with the CSI collectors and the Go runtime
// collectors registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BridgeDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "bridge", Name: "datagrams_total",
			Help: "UDP datagrams received by the ingest bridge.",
		}),
		BridgeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "bridge", Name: "relayed_bytes_total",
			Help: "Bytes written to the TCP client.",
		}),
		BridgeDroppedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "ringbuf", Name: "dropped_bytes_total",
			Help: "Bytes truncated by the ring buffer under pressure.",
		}),
		BridgeConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "bridge", Name: "connections_total",
			Help: "TCP clients accepted by the bridge.",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "stream", Name: "frames_decoded_total",
			Help: "Frames decoded by the stream orchestrator.",
		}),
		FramesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "stream", Name: "frames_rejected_total",
			Help: "Frames rejected with a protocol error.",
		}),
		StreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "csi", Subsystem: "stream", Name: "state",
			Help: "1 for the current stream state, 0 otherwise.",
		}, []string{"state"}),
		FilterRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "filter", Name: "runs_total",
			Help: "Filter invocations per filter and path.",
		}, []string{"filter", "path"}),
		FilterPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "filter", Name: "panics_total",
			Help: "Recovered filter panics.",
		}, []string{"filter"}),
		ExportDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "export", Name: "dropped_total",
			Help: "Live-export payloads dropped because the queue was full.",
		}),
		RecordedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi", Subsystem: "recording", Name: "frames_total",
			Help: "Frames written by the recording sink.",
		}),
	}
	m.registry.MustRegister(
		m.BridgeDatagrams, m.BridgeBytes, m.BridgeDroppedBytes, m.BridgeConnections,
		m.FramesDecoded, m.FramesRejected, m.StreamState,
		m.FilterRuns, m.FilterPanics, m.ExportDropped, m.RecordedFrames,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetState marks state as the only active stream state.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.StreamState.WithLabelValues(s).Set(v)
	}
}
