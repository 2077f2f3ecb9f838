package filter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

func TestPipeline_PriorityOrdering(t *testing.T) {
	var executed []string
	priorities := []int{30, 10, 10, 20}
	labels := []string{"p30", "p10-first", "p10-second", "p20"}

	var handles []*Handle
	for i, prio := range priorities {
		label := labels[i]
		s := newStub(label)
		s.Params[ParamDefaultPriority] = fmt.Sprint(prio)
		s.RunFunc = func(*csi.Record) { executed = append(executed, label) }
		h := NewHandle(label+".cfi", s)
		h.SetActive(true)
		handles = append(handles, h)
	}

	p := NewPipeline(handles...)
	p.Apply(&csi.Record{})

	want := []string{"p10-first", "p10-second", "p20", "p30"}
	assert.Equal(t, want, executed)
}

func TestPipeline_SetPriorityRebuilds(t *testing.T) {
	var executed []string
	mk := func(name string) *Handle {
		s := newStub(name)
		s.RunFunc = func(*csi.Record) { executed = append(executed, name) }
		h := NewHandle(name, s)
		h.SetActive(true)
		return h
	}
	p := NewPipeline(mk("a"), mk("b"), mk("c"))

	require.NoError(t, p.SetPriority("a", 5))
	p.Apply(&csi.Record{})
	assert.Equal(t, []string{"b", "c", "a"}, executed)

	assert.Error(t, p.SetPriority("a", 0))
	assert.Error(t, p.SetPriority("missing", 3))
}

func TestPipeline_SkipsInactiveAndUnprepared(t *testing.T) {
	var executed []string
	active := newStub("active")
	active.RunFunc = func(*csi.Record) { executed = append(executed, "active") }
	inactive := newStub("inactive")
	inactive.RunFunc = func(*csi.Record) { executed = append(executed, "inactive") }

	ha := NewHandle("active", active)
	ha.SetActive(true)
	hi := NewHandle("inactive", inactive)
	bad := FailedHandle("bad.cfi", errors.New("missing filter_run"))

	p := NewPipeline(bad, hi, ha)
	p.Apply(&csi.Record{})

	assert.Equal(t, []string{"active"}, executed)
	assert.Len(t, p.Handles(), 3)
	assert.Len(t, p.Order(), 2)
}

func TestPipeline_PathDisambiguation(t *testing.T) {
	smoothing := NewRSSISmoothing()
	h := NewHandle(BuiltinPrefix+"rssi-smoothing", smoothing)
	h.ApplyDefaults()
	require.True(t, h.Active())
	require.NoError(t, h.SetValue("alpha", 0.5))

	p := NewPipeline(h)
	mac := csi.MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

	frame := func(rssi float64) (display, export csi.Record) {
		display = csi.Record{MAC: mac, Path: csi.PathDisplay, RSSI: rssi}
		export = csi.Record{MAC: mac, Path: csi.PathExport, RSSI: rssi}
		return display, export
	}

	// Seed the display path only; the export path must not see that value.
	d, _ := frame(-40)
	p.Apply(&d)

	d, e := frame(-60)
	p.Apply(&d)
	p.Apply(&e)

	assert.Equal(t, -50.0, d.RSSI, "display smoothed from its own history")
	assert.Equal(t, -60.0, e.RSSI, "export starts fresh for the same sender")
	assert.Len(t, smoothing.state, 2)
}

func TestPipeline_LoadFailureIsolation(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	defer func() { monitoring.Logf = original }()

	dir := t.TempDir()
	for _, name := range []string{"a_missing_run.cfi", "b_good.cfi", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	good := newStub("good")
	var ran bool
	good.RunFunc = func(*csi.Record) { ran = true }
	good.Params[ParamDefaultActive] = "1"

	var opened []string
	open := func(path string) (Filter, error) {
		opened = append(opened, filepath.Base(path))
		if filepath.Base(path) == "a_missing_run.cfi" {
			return nil, fmt.Errorf("%s: %w: filter_run", path, ErrMissingSymbol)
		}
		return good, nil
	}

	handles, err := LoadDir(dir, open)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_missing_run.cfi", "b_good.cfi"}, opened)
	require.Len(t, handles, 2)
	assert.False(t, handles[0].Prepared())
	assert.ErrorIs(t, handles[0].Err(), ErrMissingSymbol)
	assert.True(t, handles[1].Prepared())

	p := NewPipeline(handles...)
	p.ApplyDefaults()
	require.Len(t, p.Order(), 1)
	p.Apply(&csi.Record{})
	assert.True(t, ran)
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}

func TestPipeline_MetricsAndPanics(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	defer func() { monitoring.Logf = original }()

	s := newStub("boom")
	s.RunFunc = func(*csi.Record) { panic("boom") }
	h := NewHandle("boom", s)
	h.SetActive(true)

	p := NewPipeline(h)
	p.SetMetrics(monitoring.NewMetrics())
	p.Apply(&csi.Record{Path: csi.PathExport})
	assert.Equal(t, uint64(1), h.Panics())
}

func TestPipeline_Close(t *testing.T) {
	a, b := newStub("a"), newStub("b")
	p := NewPipeline(NewHandle("a", a), NewHandle("b", b), FailedHandle("c", errors.New("x")))

	require.NoError(t, p.Close())
	assert.True(t, a.Closed)
	assert.True(t, b.Closed)
	assert.Empty(t, p.Handles())
}

func TestOpenBuiltin(t *testing.T) {
	h, err := OpenBuiltin("builtin:rssi-smoothing")
	require.NoError(t, err)
	assert.Equal(t, "builtin:rssi-smoothing", h.Path())
	assert.Equal(t, 10, h.Priority())
	assert.True(t, h.DefaultActive())

	_, err = OpenBuiltin("nope")
	assert.Error(t, err)
	assert.Contains(t, BuiltinNames(), "rssi-smoothing")
}
