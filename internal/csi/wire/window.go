package wire

import (
	"fmt"

	"github.com/banshee-data/csistudio/internal/csi"
)

// Window is an inclusive range of native subcarrier indices.
type Window struct {
	Begin int
	End   int
}

// Len returns the number of subcarriers in the window.
func (w Window) Len() int {
	return w.End - w.Begin + 1
}

// Contains reports whether native index i lies inside the window.
func (w Window) Contains(i int) bool {
	return i >= w.Begin && i <= w.End
}

func (w Window) String() string {
	return fmt.Sprintf("[%d,%d]", w.Begin, w.End)
}

// Union returns the smallest window covering both a and b.
func Union(a, b Window) Window {
	u := a
	if b.Begin < u.Begin {
		u.Begin = b.Begin
	}
	if b.End > u.End {
		u.End = b.End
	}
	return u
}

// TargetLength clamps a requested display or export length to the native
// capture length.
func TargetLength(native, target int) int {
	if target <= 0 || target > native {
		return native
	}
	return target
}

// SelectWindow returns the native subcarrier window shown for a target
// length. Reductions of 256 and 128 captures keep the upper half of the
// band the firmware reports; any other combination starts at index 0.
func SelectWindow(native, target int) Window {
	n := TargetLength(native, target)
	switch native {
	case csi.Subcarriers256:
		switch n {
		case csi.Subcarriers64:
			return Window{Begin: 128, End: 191}
		case csi.Subcarriers128:
			return Window{Begin: 128, End: 255}
		}
	case csi.Subcarriers128:
		if n == csi.Subcarriers64 {
			return Window{Begin: 64, End: 127}
		}
	}
	return Window{Begin: 0, End: n - 1}
}
