package filter

import (
	"strconv"
	"strings"

	"github.com/banshee-data/csistudio/internal/csi"
)

// RSSISmoothing is an in-process exponential smoothing filter for the RSSI:
// smoothed[t] = alpha*rssi[t] + (1-alpha)*smoothed[t-1]. State is kept per
// SenderKey, so the display and export runs of one frame are independent.
type RSSISmoothing struct {
	alpha    float64
	multiMAC bool
	state    map[csi.SenderKey]float64
	single   *float64
}

// NewRSSISmoothing returns the filter with alpha 0.02 and per-sender state.
func NewRSSISmoothing() *RSSISmoothing {
	return &RSSISmoothing{alpha: 0.02, multiMAC: true, state: make(map[csi.SenderKey]float64)}
}

func (f *RSSISmoothing) Name() string {
	return "Exponential smoothing for the RSSI signal"
}

func (f *RSSISmoothing) Description() string {
	return "Exponential smoothing for de-noising the RSSI signal.\n" +
		"RSSI_smoothened[t] = alpha*RSSI[t] + (1-alpha)*RSSI_smoothened[t-1]"
}

func (f *RSSISmoothing) ParameterList() string {
	return "alpha,Smoothing Factor Alpha,float,0,1,3,0\n" +
		"multiMACs,Support multiple sender MACs,bool,0,0,0,0"
}

func (f *RSSISmoothing) Parameter(name string) string {
	switch name {
	case ParamDefaultActive:
		return "1"
	case ParamDefaultPriority:
		return "10"
	case "alpha":
		return strconv.FormatFloat(f.alpha, 'f', 3, 64)
	case "multiMACs":
		if f.multiMAC {
			return "1"
		}
		return "0"
	}
	return ""
}

func (f *RSSISmoothing) SetParameter(name, value string) {
	value = strings.TrimSpace(value)
	switch name {
	case "alpha":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 && v <= 1 {
			f.alpha = v
		}
	case "multiMACs":
		f.multiMAC = value == "1"
	}
}

func (f *RSSISmoothing) Run(rec *csi.Record) {
	if !f.multiMAC {
		if f.single == nil {
			v := rec.RSSI
			f.single = &v
		} else {
			*f.single = f.alpha*rec.RSSI + (1-f.alpha)*(*f.single)
		}
		rec.RSSI = *f.single
		return
	}

	key := rec.Key()
	prev, ok := f.state[key]
	if !ok {
		f.state[key] = rec.RSSI
		return
	}
	next := f.alpha*rec.RSSI + (1-f.alpha)*prev
	f.state[key] = next
	rec.RSSI = next
}

func (f *RSSISmoothing) Init()     { f.Reset() }
func (f *RSSISmoothing) Finalize() { f.Reset() }

func (f *RSSISmoothing) Reset() {
	f.state = make(map[csi.SenderKey]float64)
	f.single = nil
}

func (f *RSSISmoothing) Close() error { return nil }
