package filter

import (
	"fmt"
	"sort"
	"strings"
)

// BuiltinPrefix marks in-process filters in configuration and handle paths.
const BuiltinPrefix = "builtin:"

var builtins = map[string]func() Filter{
	"rssi-smoothing": func() Filter { return NewRSSISmoothing() },
}

// BuiltinNames lists the in-process filters.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenBuiltin returns a handle for an in-process filter. name may carry
// BuiltinPrefix.
func OpenBuiltin(name string) (*Handle, error) {
	name = strings.TrimPrefix(name, BuiltinPrefix)
	ctor, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown builtin filter %q (have %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	return NewHandle(BuiltinPrefix+name, ctor()), nil
}
