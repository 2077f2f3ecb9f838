//go:build darwin || freebsd || linux

package filter

import (
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/banshee-data/csistudio/internal/csi"
)

// Native is a filter backed by a shared object implementing the filter_*
// C ABI.
type Native struct {
	path string
	lib  uintptr

	getName          func(*byte)
	getDescription   func(*byte)
	run              func(unsafe.Pointer)
	getParameter     func(*byte, *byte)
	setParameter     func(*byte, *byte)
	getParameterList func(*byte)
	initialize       func()
	finalize         func()
	reset            func()

	data cCSIData
}

// OpenNative loads the shared object at path and binds all nine entry
// points. If any symbol is missing the library is unloaded and the error
// wraps ErrMissingSymbol naming every missing entry point.
func OpenNative(path string) (*Native, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	n := &Native{path: path, lib: lib}
	bindings := []struct {
		symbol string
		fptr   any
	}{
		{"filter_getName", &n.getName},
		{"filter_getDescription", &n.getDescription},
		{"filter_run", &n.run},
		{"filter_getParameter", &n.getParameter},
		{"filter_setParameter", &n.setParameter},
		{"filter_getParameterList", &n.getParameterList},
		{"filter_init", &n.initialize},
		{"filter_finalize", &n.finalize},
		{"filter_reset", &n.reset},
	}

	var missing []string
	syms := make([]uintptr, len(bindings))
	for i, b := range bindings {
		sym, err := purego.Dlsym(lib, b.symbol)
		if err != nil || sym == 0 {
			missing = append(missing, b.symbol)
			continue
		}
		syms[i] = sym
	}
	if len(missing) > 0 {
		_ = purego.Dlclose(lib)
		return nil, fmt.Errorf("%s: %w: %s", path, ErrMissingSymbol, strings.Join(missing, ", "))
	}
	for i, b := range bindings {
		purego.RegisterFunc(b.fptr, syms[i])
	}
	return n, nil
}

// Path returns the shared object path.
func (n *Native) Path() string { return n.path }

func (n *Native) Name() string {
	buf := make([]byte, NameLen)
	n.getName(&buf[0])
	return cString(buf)
}

func (n *Native) Description() string {
	buf := make([]byte, DescriptionLen)
	n.getDescription(&buf[0])
	return cString(buf)
}

func (n *Native) ParameterList() string {
	buf := make([]byte, ParameterListLen)
	n.getParameterList(&buf[0])
	return cString(buf)
}

func (n *Native) Parameter(name string) string {
	key := cBuffer(name, ParameterLen)
	val := make([]byte, ParameterLen)
	n.getParameter(&key[0], &val[0])
	runtime.KeepAlive(key)
	return cString(val)
}

func (n *Native) SetParameter(name, value string) {
	key := cBuffer(name, ParameterLen)
	val := cBuffer(value, ParameterLen)
	n.setParameter(&key[0], &val[0])
	runtime.KeepAlive(key)
	runtime.KeepAlive(val)
}

// Run marshals rec into the C layout, calls filter_run and copies the
// mutable fields back.
func (n *Native) Run(rec *csi.Record) {
	n.data.fill(rec)
	n.run(unsafe.Pointer(&n.data))
	n.data.readBack(rec)
}

func (n *Native) Init()     { n.initialize() }
func (n *Native) Finalize() { n.finalize() }
func (n *Native) Reset()    { n.reset() }

// Close unloads the shared object. The Native must not be used afterwards.
func (n *Native) Close() error {
	if n.lib == 0 {
		return nil
	}
	err := purego.Dlclose(n.lib)
	n.lib = 0
	return err
}
