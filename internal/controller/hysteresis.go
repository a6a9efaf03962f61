package controller

import (
	"math"
	"time"

	"github.com/jmylchreest/framecast/internal/selector"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

// Drift classifies one frame's telemetry against the budget.
type Drift int

const (
	// DriftWithin: inside the hysteresis band.
	DriftWithin Drift = iota
	// DriftOver: the pipeline is too expensive for the budget.
	DriftOver
	// DriftUnder: the budget has headroom to spend on quality.
	DriftUnder
)

func (d Drift) String() string {
	switch d {
	case DriftOver:
		return "over"
	case DriftUnder:
		return "under"
	default:
		return "within"
	}
}

// Budget is what one frame may cost.
type Budget struct {
	// Duration is the frame interval.
	Duration time.Duration
	// Bytes is the byte budget per frame. 0 = unknown, bytes never drive drift.
	Bytes float64
	// Band is the relative hysteresis band around both budgets.
	Band float64

	LossThreshold    float64
	CPUHighWatermark float64
}

// Sample is the telemetry attributed to one encoded frame.
type Sample struct {
	Duration    time.Duration
	OutputBytes int
	Network     telemetry.NetworkSnapshot
	CPUPercent  float64
}

// Classify returns the drift of one sample.
func (b Budget) Classify(s Sample) Drift {
	hi := 1 + b.Band
	lo := 1 - b.Band

	switch {
	case float64(s.Duration) > float64(b.Duration)*hi:
		return DriftOver
	case b.Bytes > 0 && float64(s.OutputBytes) > b.Bytes*hi:
		return DriftOver
	case s.Network.Samples > 0 && s.Network.LossRatio > b.LossThreshold:
		return DriftOver
	case b.CPUHighWatermark > 0 && s.CPUPercent > b.CPUHighWatermark:
		return DriftOver
	}

	if float64(s.Duration) < float64(b.Duration)*lo && (b.Bytes == 0 || float64(s.OutputBytes) < b.Bytes*lo) {
		return DriftUnder
	}
	return DriftWithin
}

// hysteresis requires sustain consecutive frames drifting the same way
// before it fires. A frame within the band or a direction flip resets it.
type hysteresis struct {
	sustain int
	dir     Drift
	streak  int
}

func newHysteresis(sustain int) *hysteresis {
	if sustain < 1 {
		sustain = 1
	}
	return &hysteresis{sustain: sustain}
}

// observe records one frame and reports whether the streak fired.
func (h *hysteresis) observe(d Drift) (Drift, bool) {
	if d == DriftWithin {
		h.reset()
		return DriftWithin, false
	}
	if d != h.dir {
		h.dir = d
		h.streak = 0
	}
	h.streak++
	if h.streak < h.sustain {
		return d, false
	}
	h.reset()
	return d, true
}

func (h *hysteresis) reset() {
	h.dir = DriftWithin
	h.streak = 0
}

// pressure tracks where a window sits between quality-first (-1) and
// speed-first (+1).
type pressure struct {
	value float64
	step  float64
}

// apply moves the pressure one step in the drift direction and reports
// whether it moved.
func (p *pressure) apply(d Drift) bool {
	next := p.value
	switch d {
	case DriftOver:
		next = math.Min(1, p.value+p.step)
	case DriftUnder:
		next = math.Max(-1, p.value-p.step)
	}
	if next == p.value {
		return false
	}
	p.value = next
	return true
}

// constraints derives selection constraints from the pressure. minQuality is
// released near maximum pressure so a starved window can still find a pipeline.
func (p *pressure) constraints(minQuality, minSpeed int) selector.Constraints {
	speed := int(math.Round(50 + 50*p.value))
	if p.value >= 0.75 {
		minQuality = 0
	}
	return selector.Constraints{
		MinQuality:    minQuality,
		MinSpeed:      minSpeed,
		TargetQuality: 100 - speed,
		TargetSpeed:   speed,
	}
}
