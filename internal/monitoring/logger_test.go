package monitoring

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestThrottle_SuppressesWithinInterval(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	th := NewThrottle(time.Hour)
	for i := 0; i < 5; i++ {
		th.Logf("overflow %d", i)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(lines), lines)
	}
	if lines[0] != "overflow 0" {
		t.Errorf("first line = %q, want %q", lines[0], "overflow 0")
	}
	if th.suppressed != 4 {
		t.Errorf("suppressed = %d, want 4", th.suppressed)
	}
}

func TestThrottle_ReportsSuppressedCount(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	th := NewThrottle(10 * time.Millisecond)
	th.Logf("drop")
	th.Logf("drop")
	th.Logf("drop")
	time.Sleep(20 * time.Millisecond)
	th.Logf("drop")

	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}
	if !strings.Contains(lines[1], "(2 similar suppressed)") {
		t.Errorf("second line = %q, want suppressed count", lines[1])
	}
}
