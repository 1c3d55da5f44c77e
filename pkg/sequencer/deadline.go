package sequencer

import (
	"math"

	"github.com/argus-labs/lockstep/pkg/protocol"
)

// DeadlinePolicy decides how many ticks an input window stays open. Tick T closes once the live
// clock reaches T + Window(). A window never reopens, so a shrinking window closes several ticks
// at once and a growing one delays the next close.
type DeadlinePolicy interface {
	Window() uint32
	// Observe records an input for tick arriving while the live clock was at clock, including
	// inputs that arrived too late.
	Observe(tick, clock protocol.Tick)
}

// FixedDeadline keeps every tick open for the same number of ticks.
type FixedDeadline uint32

var _ DeadlinePolicy = FixedDeadline(0)

func (d FixedDeadline) Window() uint32           { return uint32(d) }
func (FixedDeadline) Observe(_, _ protocol.Tick) {}

// AdaptiveDeadline sizes the window from the observed arrival delay of inputs, the same way TCP
// sizes its retransmission timeout: a smoothed mean plus four times the smoothed deviation.
type AdaptiveDeadline struct {
	min, max uint32
	window   uint32

	mean    float64
	dev     float64
	samples uint64
}

var _ DeadlinePolicy = (*AdaptiveDeadline)(nil)

const (
	adaptiveMeanGain = 0.125
	adaptiveDevGain  = 0.25
	adaptiveDevScale = 4
)

// NewAdaptiveDeadline returns a policy starting at initial, clamped to [lo, hi].
func NewAdaptiveDeadline(initial, lo, hi uint32) *AdaptiveDeadline {
	return &AdaptiveDeadline{min: lo, max: hi, window: clampWindow(initial, lo, hi)}
}

func (d *AdaptiveDeadline) Window() uint32 {
	return d.window
}

func (d *AdaptiveDeadline) Observe(tick, clock protocol.Tick) {
	// Inputs sent ahead of their tick arrive with no delay at all.
	delay := 0.0
	if clock > tick {
		delay = float64(clock - tick)
	}

	if d.samples == 0 {
		d.mean = delay
		d.dev = delay / 2
	} else {
		d.dev += adaptiveDevGain * (math.Abs(delay-d.mean) - d.dev)
		d.mean += adaptiveMeanGain * (delay - d.mean)
	}
	d.samples++

	// An input arriving d ticks after its tick needs a window of at least d+1.
	target := math.Ceil(d.mean+adaptiveDevScale*d.dev) + 1
	d.window = clampWindow(uint32(min(target, math.MaxUint32)), d.min, d.max)
}

func clampWindow(w, lo, hi uint32) uint32 {
	return max(lo, min(w, hi))
}
