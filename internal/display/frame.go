package display

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/csistudio/internal/csi"
)

// Frame is an immutable copy of a display record, ready for JSON.
type Frame struct {
	MAC          string    `json:"mac"`
	Timestamp    time.Time `json:"timestamp"`
	SeqNr        uint16    `json:"seq"`
	RSSI         float64   `json:"rssi"`
	FrameControl uint8     `json:"frame_control"`
	Amplitude    []float64 `json:"amplitude"`
	Phase        []float64 `json:"phase"`
	Summary      Summary   `json:"summary"`
}

// Summary holds amplitude statistics of one frame.
type Summary struct {
	MeanAmplitude float64 `json:"mean_amplitude"`
	StdAmplitude  float64 `json:"std_amplitude"`
	MaxAmplitude  float64 `json:"max_amplitude"`
	MaxIndex      int     `json:"max_index"`
}

// NewFrame copies rec.
func NewFrame(rec *csi.Record) *Frame {
	f := &Frame{
		MAC:          rec.MAC.String(),
		Timestamp:    rec.Timestamp,
		SeqNr:        rec.SeqNr,
		RSSI:         rec.RSSI,
		FrameControl: rec.FrameControl,
		Amplitude:    append([]float64(nil), rec.Amplitudes()...),
		Phase:        append([]float64(nil), rec.Phases()...),
	}
	f.Summary = summarize(f.Amplitude)
	return f
}

func summarize(amp []float64) Summary {
	if len(amp) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(amp, nil)
	if len(amp) == 1 {
		std = 0
	}
	idx := floats.MaxIdx(amp)
	return Summary{MeanAmplitude: mean, StdAmplitude: std, MaxAmplitude: amp[idx], MaxIndex: idx}
}
