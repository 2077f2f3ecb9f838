package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/csi/filter"
)

func TestFilterKey(t *testing.T) {
	builtin, err := filter.OpenBuiltin("rssi-smoothing")
	require.NoError(t, err)
	assert.Equal(t, "builtin:rssi-smoothing", FilterKey(builtin))
	assert.Equal(t, "gain.cfi", FilterKey(filter.NewHandle("/opt/filters/gain.cfi", newGain())))
}

func TestApplyPresets(t *testing.T) {
	gain := newGain()
	other := &filter.Stub{FilterName: "Other", Params: map[string]string{}}
	p := filter.NewPipeline(
		filter.NewHandle("/f/gain.cfi", gain),
		filter.NewHandle("/f/other.cfi", other),
	)
	p.ApplyDefaults()
	require.Equal(t, "Gain", p.Order()[1].Name(), "gain has default priority 2")

	active := true
	one := 1
	err := ApplyPresets(p, map[string]config.FilterPreset{
		"gain.cfi":    {Active: &active, Priority: &one, Params: map[string]string{"gain": "3"}},
		"missing.cfi": {Active: &active},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.cfi")

	h, ok := FindFilter(p, "gain.cfi")
	require.True(t, ok)
	assert.True(t, h.Active())
	assert.Equal(t, 1, h.Priority())
	assert.Equal(t, "3.00", gain.Params["gain"])
}

func TestApplyUpdateUndeclaredParam(t *testing.T) {
	gain := newGain()
	gain.Params["hidden"] = "a"
	p := filter.NewPipeline(filter.NewHandle("/f/gain.cfi", gain))
	h, _ := FindFilter(p, "gain.cfi")

	require.NoError(t, ApplyUpdate(p, h, FilterUpdate{Params: map[string]any{"hidden": "b"}}))
	assert.Equal(t, "b", gain.Params["hidden"])

	assert.Error(t, ApplyUpdate(p, h, FilterUpdate{Params: map[string]any{"hidden": 2.0}}))
}
