package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

const notPrepared = " - filter not yet prepared or erroneous - "

// Handle wraps one filter with its host-side state. A handle whose filter
// failed to load stays registered but is never prepared and never runs.
type Handle struct {
	path     string
	filter   Filter
	err      error
	seq      int
	name     string
	desc     string
	specs    []ParamSpec
	params   map[string]Param
	priority int
	active   bool

	defaultActive   bool
	defaultPriority int

	panics   uint64
	throttle *monitoring.Throttle
}

// NewHandle prepares a handle around a loaded filter: it caches the name,
// description and parameter list and reads the reserved default policy.
// The handle starts inactive at its default priority.
func NewHandle(path string, f Filter) *Handle {
	h := &Handle{
		path:            path,
		filter:          f,
		name:            truncate(f.Name(), NameLen),
		desc:            truncate(f.Description(), DescriptionLen),
		params:          make(map[string]Param),
		defaultPriority: DefaultPriority,
		throttle:        monitoring.NewThrottle(10 * time.Second),
	}

	h.defaultActive = strings.TrimSpace(f.Parameter(ParamDefaultActive)) == "1"
	if raw := strings.TrimSpace(f.Parameter(ParamDefaultPriority)); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			h.defaultPriority = p
		} else {
			monitoring.Logf("filter %s: ignoring defaultPriority %q", h.name, raw)
		}
	}
	h.priority = h.defaultPriority

	specs, err := ParseParamList(truncate(f.ParameterList(), ParameterListLen))
	if err != nil {
		monitoring.Logf("filter %s: could not parse parameter list: %v", h.name, err)
	}
	h.specs = specs
	h.refreshParams()
	return h
}

// FailedHandle records a filter file that could not be loaded.
func FailedHandle(path string, err error) *Handle {
	return &Handle{path: path, err: err, priority: DefaultPriority, defaultPriority: DefaultPriority}
}

// Path returns the file the filter was loaded from.
func (h *Handle) Path() string { return h.path }

// Prepared reports whether every entry point resolved.
func (h *Handle) Prepared() bool { return h.filter != nil }

// Err returns the load error of an unprepared handle.
func (h *Handle) Err() error { return h.err }

// Name returns the filter name, or a placeholder for unprepared handles.
func (h *Handle) Name() string {
	if !h.Prepared() {
		return notPrepared
	}
	return h.name
}

// Description returns the filter description, or a placeholder.
func (h *Handle) Description() string {
	if !h.Prepared() {
		return notPrepared
	}
	return h.desc
}

// Priority returns the execution priority. Lower values run earlier.
func (h *Handle) Priority() int { return h.priority }

// DefaultActive reports the filter's own activation default.
func (h *Handle) DefaultActive() bool { return h.defaultActive }

// DefaultPriority reports the filter's own priority default.
func (h *Handle) DefaultPriority() int { return h.defaultPriority }

// Active reports whether Run is forwarded to the filter.
func (h *Handle) Active() bool { return h.active }

// Panics returns the number of recovered filter panics.
func (h *Handle) Panics() uint64 { return h.panics }

// ApplyDefaults sets the filter's default priority and activates it when
// it asks to be active by default.
func (h *Handle) ApplyDefaults() {
	h.priority = h.defaultPriority
	if h.defaultActive {
		h.SetActive(true)
	}
}

// setPriority changes the priority without reordering. Pipelines call it
// and rebuild their order afterwards.
func (h *Handle) setPriority(p int) error {
	if p < 1 {
		return fmt.Errorf("filter %s: priority must be positive, got %d", h.name, p)
	}
	h.priority = p
	return nil
}

// SetActive switches the handle on or off. Activation calls Init and
// deactivation calls Finalize. Unprepared handles ignore the request.
func (h *Handle) SetActive(active bool) {
	if !h.Prepared() || h.active == active {
		return
	}
	if active {
		h.guard("init", h.filter.Init)
	} else {
		h.guard("finalize", h.filter.Finalize)
	}
	h.active = active
}

// Reset restores the filter's internal state without changing activation.
func (h *Handle) Reset() {
	if h.Prepared() {
		h.guard("reset", h.filter.Reset)
	}
}

// Run invokes the filter on rec when the handle is active. A panicking
// in-process filter is recovered and logged; the record keeps whatever
// state the filter left in it.
func (h *Handle) Run(rec *csi.Record) bool {
	if !h.active || !h.Prepared() {
		return false
	}
	h.guard("run", func() { h.filter.Run(rec) })
	return true
}

func (h *Handle) guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.panics++
			h.throttle.Logf("filter %s: %s panicked: %v", h.name, op, r)
		}
	}()
	fn()
}

// ParamSpecs returns the parsed parameter descriptors.
func (h *Handle) ParamSpecs() []ParamSpec { return h.specs }

// Params returns the cached typed values in descriptor order.
func (h *Handle) Params() []Param {
	out := make([]Param, 0, len(h.specs))
	for _, s := range h.specs {
		out = append(out, h.params[s.ID])
	}
	return out
}

// Param returns the cached typed value of a declared parameter.
func (h *Handle) Param(name string) (Param, bool) {
	p, ok := h.params[name]
	return p, ok
}

// Parameter queries the filter directly.
func (h *Handle) Parameter(name string) string {
	if !h.Prepared() {
		return ""
	}
	return truncate(h.filter.Parameter(truncate(name, ParameterLen)), ParameterLen)
}

// SetParameter forwards a raw string pair to the filter and refreshes the
// typed cache. Unknown names are passed through and have no effect.
func (h *Handle) SetParameter(name, value string) {
	if !h.Prepared() {
		return
	}
	h.filter.SetParameter(truncate(name, ParameterLen), truncate(value, ParameterLen))
	if spec, ok := h.spec(name); ok {
		h.refreshParam(spec)
	}
}

// SetValue encodes a typed value for a declared parameter, checking its
// type and range, and sets it.
func (h *Handle) SetValue(name string, v any) error {
	if !h.Prepared() {
		return fmt.Errorf("filter %s is not prepared", h.path)
	}
	spec, ok := h.spec(name)
	if !ok {
		return fmt.Errorf("filter %s has no parameter %q", h.name, name)
	}
	raw, err := encodeValue(spec, v)
	if err != nil {
		return err
	}
	h.SetParameter(name, raw)
	return nil
}

func (h *Handle) spec(name string) (ParamSpec, bool) {
	for _, s := range h.specs {
		if s.ID == name {
			return s, true
		}
	}
	return ParamSpec{}, false
}

func (h *Handle) refreshParams() {
	for _, s := range h.specs {
		h.refreshParam(s)
	}
}

func (h *Handle) refreshParam(spec ParamSpec) {
	p, err := decodeParam(spec, h.Parameter(spec.ID))
	if err != nil {
		monitoring.Logf("filter %s: %v", h.name, err)
	}
	h.params[spec.ID] = p
}

// Close finalizes the filter and releases it.
func (h *Handle) Close() error {
	if !h.Prepared() {
		return nil
	}
	h.guard("finalize", h.filter.Finalize)
	h.active = false
	err := h.filter.Close()
	h.filter = nil
	h.err = fmt.Errorf("filter %s closed", h.path)
	return err
}
