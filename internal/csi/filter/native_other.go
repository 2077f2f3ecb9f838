//go:build !(darwin || freebsd || linux)

package filter

import (
	"fmt"
	"runtime"

	"github.com/banshee-data/csistudio/internal/csi"
)

// Native is unavailable on this platform.
type Native struct{}

// OpenNative always fails on platforms without dlopen.
func OpenNative(path string) (*Native, error) {
	return nil, fmt.Errorf("load %s: native filters are not supported on %s", path, runtime.GOOS)
}

func (*Native) Name() string                { return "" }
func (*Native) Description() string         { return "" }
func (*Native) Run(*csi.Record)             {}
func (*Native) Parameter(string) string     { return "" }
func (*Native) SetParameter(string, string) {}
func (*Native) ParameterList() string       { return "" }
func (*Native) Init()                       {}
func (*Native) Finalize()                   {}
func (*Native) Reset()                      {}
func (*Native) Close() error                { return nil }
