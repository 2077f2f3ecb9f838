package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/csi/filter"
)

// FilterUpdate changes one filter. Nil fields are left alone. Params
// values may be typed JSON values for declared parameters or raw strings.
type FilterUpdate struct {
	Active   *bool          `json:"active,omitempty"`
	Priority *int           `json:"priority,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// FilterParam is a parameter descriptor with its current typed value.
type FilterParam struct {
	filter.ParamSpec
	Value any `json:"value"`
}

// FilterInfo describes one handle for GET /api/filters.
type FilterInfo struct {
	File            string        `json:"file"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	Prepared        bool          `json:"prepared"`
	Error           string        `json:"error,omitempty"`
	Active          bool          `json:"active"`
	Priority        int           `json:"priority"`
	DefaultActive   bool          `json:"default_active"`
	DefaultPriority int           `json:"default_priority"`
	Panics          uint64        `json:"panics"`
	Params          []FilterParam `json:"params"`
}

// FilterKey is the name a handle is addressed by: the file name of a
// plugin or the prefixed name of a builtin.
func FilterKey(h *filter.Handle) string {
	if strings.HasPrefix(h.Path(), filter.BuiltinPrefix) {
		return h.Path()
	}
	return filepath.Base(h.Path())
}

// FindFilter looks a handle up by FilterKey.
func FindFilter(p *filter.Pipeline, key string) (*filter.Handle, bool) {
	for _, h := range p.Handles() {
		if FilterKey(h) == key {
			return h, true
		}
	}
	return nil, false
}

// DescribeFilters lists prepared handles in execution order followed by
// the handles that failed to load.
func DescribeFilters(p *filter.Pipeline) []FilterInfo {
	out := make([]FilterInfo, 0, len(p.Handles()))
	for _, h := range p.Order() {
		out = append(out, describe(h))
	}
	var failed []FilterInfo
	for _, h := range p.Handles() {
		if !h.Prepared() {
			failed = append(failed, describe(h))
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].File < failed[j].File })
	return append(out, failed...)
}

func describe(h *filter.Handle) FilterInfo {
	info := FilterInfo{
		File:            FilterKey(h),
		Name:            h.Name(),
		Description:     h.Description(),
		Prepared:        h.Prepared(),
		Active:          h.Active(),
		Priority:        h.Priority(),
		DefaultActive:   h.DefaultActive(),
		DefaultPriority: h.DefaultPriority(),
		Panics:          h.Panics(),
		Params:          []FilterParam{},
	}
	if err := h.Err(); err != nil {
		info.Error = err.Error()
	}
	for _, p := range h.Params() {
		info.Params = append(info.Params, FilterParam{ParamSpec: p.Spec, Value: p.Value()})
	}
	return info
}

// ApplyUpdate applies u to h: parameters first, then priority, then
// activation. It stops at the first error.
func ApplyUpdate(p *filter.Pipeline, h *filter.Handle, u FilterUpdate) error {
	if !h.Prepared() {
		return fmt.Errorf("filter %s is not prepared", FilterKey(h))
	}
	names := make([]string, 0, len(u.Params))
	for name := range u.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := u.Params[name]
		if _, declared := h.Param(name); declared {
			if err := h.SetValue(name, v); err != nil {
				return err
			}
			continue
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("filter %s: undeclared parameter %q needs a string value", FilterKey(h), name)
		}
		h.SetParameter(name, s)
	}
	if u.Priority != nil {
		if err := p.SetPriority(h.Path(), *u.Priority); err != nil {
			return err
		}
	}
	if u.Active != nil {
		h.SetActive(*u.Active)
	}
	return nil
}

// ApplyPresets applies configured presets after the filters' own
// defaults. Presets naming unknown filters are reported.
func ApplyPresets(p *filter.Pipeline, presets map[string]config.FilterPreset) error {
	keys := make([]string, 0, len(presets))
	for k := range presets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		h, ok := FindFilter(p, key)
		if !ok {
			errs = append(errs, fmt.Errorf("preset for unknown filter %q", key))
			continue
		}
		preset := presets[key]
		u := FilterUpdate{Active: preset.Active, Priority: preset.Priority}
		if len(preset.Params) > 0 {
			u.Params = make(map[string]any, len(preset.Params))
			for k, v := range preset.Params {
				u.Params[k] = v
			}
		}
		if err := ApplyUpdate(p, h, u); err != nil {
			errs = append(errs, fmt.Errorf("preset %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
