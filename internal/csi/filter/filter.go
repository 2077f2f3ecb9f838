// Package filter hosts CSI filter plugins: native shared objects exposing
// the filter_* C ABI and in-process Go filters implementing the same
// capability. Handles wrap a filter with its host-side policy (priority,
// activation, typed parameters) and a Pipeline runs the active handles in
// priority order.
package filter

import (
	"errors"

	"github.com/banshee-data/csistudio/internal/csi"
)

// String buffer limits of the plugin ABI, including the terminating NUL.
const (
	NameLen          = 100
	DescriptionLen   = 500
	ParameterLen     = 100
	ParameterListLen = 500
)

// Extension identifies native filter plugins in a filter directory.
const Extension = ".cfi"

// Reserved parameter names carrying host policy instead of filter options.
const (
	ParamDefaultActive   = "defaultActive"
	ParamDefaultPriority = "defaultPriority"
)

// DefaultPriority applies when a filter does not report defaultPriority.
const DefaultPriority = 1

// ErrMissingSymbol is wrapped by OpenNative when a plugin does not export
// every required entry point.
var ErrMissingSymbol = errors.New("filter: missing entry point")

// Filter is the capability every pipeline stage provides. Parameter keys and
// values are strings bounded by ParameterLen. Setting an unknown parameter
// must leave the filter unchanged. Implementations are not required to be
// safe for concurrent use; the pipeline serializes all calls.
type Filter interface {
	Name() string
	Description() string
	Run(rec *csi.Record)
	Parameter(name string) string
	SetParameter(name, value string)
	ParameterList() string
	Init()
	Finalize()
	Reset()
	Close() error
}

// truncate clips s so that it fits a NUL-terminated buffer of size limit.
func truncate(s string, limit int) string {
	if len(s) >= limit {
		return s[:limit-1]
	}
	return s
}
