package monitoring

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Throttle logs hot-path warnings at most once per interval. Calls made
// while throttled are counted and the count is appended to the next line
// that gets through.
type Throttle struct {
	mu         sync.Mutex
	sometimes  rate.Sometimes
	suppressed int
}

// NewThrottle returns a Throttle emitting at most one line per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{sometimes: rate.Sometimes{First: 1, Interval: interval}}
}

// Logf formats and logs through the package logger unless throttled.
func (t *Throttle) Logf(format string, v ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	emitted := false
	t.sometimes.Do(func() {
		emitted = true
		if t.suppressed > 0 {
			format += " (%d similar suppressed)"
			v = append(v, t.suppressed)
		}
		t.suppressed = 0
		Logf(format, v...)
	})
	if !emitted {
		t.suppressed++
	}
}
