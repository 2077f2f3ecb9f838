package filter

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

// Pipeline owns a set of handles and their execution order. It is not safe
// for concurrent use: the stream consumer owns it and serializes access.
type Pipeline struct {
	handles []*Handle
	order   []*Handle
	nextSeq int
	metrics *monitoring.Metrics
}

// NewPipeline registers handles in the given order.
func NewPipeline(handles ...*Handle) *Pipeline {
	p := &Pipeline{}
	for _, h := range handles {
		p.register(h)
	}
	p.Rebuild()
	return p
}

// SetMetrics enables per-filter run and panic counters.
func (p *Pipeline) SetMetrics(m *monitoring.Metrics) {
	p.metrics = m
}

func (p *Pipeline) register(h *Handle) {
	h.seq = p.nextSeq
	p.nextSeq++
	p.handles = append(p.handles, h)
}

// Add registers h after every existing handle and rebuilds the order.
func (p *Pipeline) Add(h *Handle) {
	p.register(h)
	p.Rebuild()
}

// Rebuild derives the execution order: prepared handles only, stable by
// ascending priority so equal priorities keep registration order.
func (p *Pipeline) Rebuild() {
	order := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		if h.Prepared() {
			order = append(order, h)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].priority < order[j].priority
	})
	p.order = order
}

// Handles returns every registered handle, prepared or not, in
// registration order.
func (p *Pipeline) Handles() []*Handle {
	return p.handles
}

// Order returns the prepared handles in execution order.
func (p *Pipeline) Order() []*Handle {
	return p.order
}

// Lookup finds a handle by path.
func (p *Pipeline) Lookup(path string) (*Handle, bool) {
	for _, h := range p.handles {
		if h.path == path {
			return h, true
		}
	}
	return nil, false
}

// SetPriority changes a handle's priority and rebuilds the order.
func (p *Pipeline) SetPriority(path string, priority int) error {
	h, ok := p.Lookup(path)
	if !ok {
		return fmt.Errorf("no filter %q", path)
	}
	if err := h.setPriority(priority); err != nil {
		return err
	}
	p.Rebuild()
	return nil
}

// ApplyDefaults applies every prepared handle's default policy.
func (p *Pipeline) ApplyDefaults() {
	for _, h := range p.handles {
		if h.Prepared() {
			h.ApplyDefaults()
		}
	}
	p.Rebuild()
}

// Apply runs every active handle on rec in execution order.
func (p *Pipeline) Apply(rec *csi.Record) {
	for _, h := range p.order {
		before := h.panics
		if !h.Run(rec) || p.metrics == nil {
			continue
		}
		p.metrics.FilterRuns.WithLabelValues(h.name, rec.Path.String()).Inc()
		if h.panics != before {
			p.metrics.FilterPanics.WithLabelValues(h.name).Inc()
		}
	}
}

// ResetAll resets every prepared handle.
func (p *Pipeline) ResetAll() {
	for _, h := range p.order {
		h.Reset()
	}
}

// Close finalizes and unloads every handle.
func (p *Pipeline) Close() error {
	var errs []error
	for _, h := range p.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", h.path, err))
		}
	}
	p.handles = nil
	p.order = nil
	return errors.Join(errs...)
}
