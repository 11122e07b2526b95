// Package sim builds synthetic visitor sensor trajectories and replays
// them through a session on simulated time.
package sim

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rheeghang/docent/core"
	"github.com/rheeghang/docent/model"
)

// DefaultRate is the sample interval of generated trajectories, close to
// what mobile browsers deliver for deviceorientation.
const DefaultRate = 100 * time.Millisecond

// Step is one scripted visitor action at an offset from the start of the
// script. A step with no action only lets time pass.
type Step struct {
	At          time.Duration
	Navigate    string
	Orientation *model.OrientationSample
	Motion      *model.MotionSample
}

// Script is a time-ordered list of steps.
type Script []Step

// Merge combines scripts into one, ordered by offset. Steps with equal
// offsets keep their argument order.
func Merge(scripts ...Script) Script {
	var out Script
	for _, s := range scripts {
		out = append(out, s...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// Duration is the offset of the last step.
func (s Script) Duration() time.Duration {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].At
}

func orientation(at time.Duration, sample model.OrientationSample) Step {
	return Step{At: at, Orientation: &sample}
}

// Hold emits the same orientation every rate for d.
func Hold(start time.Duration, sample model.OrientationSample, d, rate time.Duration) Script {
	if rate <= 0 {
		rate = DefaultRate
	}
	var out Script
	for t := time.Duration(0); t <= d; t += rate {
		out = append(out, orientation(start+t, sample))
	}
	return out
}

// Sweep moves linearly from one orientation to another over d. Alpha
// travels along the shorter arc.
func Sweep(start time.Duration, from, to model.OrientationSample, d, rate time.Duration) Script {
	if rate <= 0 {
		rate = DefaultRate
	}
	if d <= 0 {
		return Script{orientation(start, to)}
	}
	dAlpha := core.NormalizeDegrees(to.Alpha) - core.NormalizeDegrees(from.Alpha)
	if dAlpha > 180 {
		dAlpha -= 360
	} else if dAlpha < -180 {
		dAlpha += 360
	}
	var out Script
	for t := time.Duration(0); t <= d; t += rate {
		f := float64(t) / float64(d)
		out = append(out, orientation(start+t, model.OrientationSample{
			Alpha: core.NormalizeDegrees(from.Alpha + f*dAlpha),
			Beta:  from.Beta + f*(to.Beta-from.Beta),
			Gamma: from.Gamma + f*(to.Gamma-from.Gamma),
		}))
	}
	if last := out[len(out)-1]; last.At != start+d {
		out = append(out, orientation(start+d, to))
	}
	return out
}

// Wander jitters around center by up to amplitude degrees per axis, the
// way a hand-held phone drifts. The same seed yields the same script.
func Wander(seed uint64, start time.Duration, center model.OrientationSample, amplitude float64, d, rate time.Duration) Script {
	if rate <= 0 {
		rate = DefaultRate
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	jitter := func() float64 { return (rng.Float64()*2 - 1) * amplitude }
	var out Script
	for t := time.Duration(0); t <= d; t += rate {
		out = append(out, orientation(start+t, model.OrientationSample{
			Alpha: core.NormalizeDegrees(center.Alpha + jitter()),
			Beta:  clamp(center.Beta+jitter(), -180, 180),
			Gamma: clamp(center.Gamma+jitter(), -90, 90),
		}))
	}
	return out
}

// ShakeBurst emits spikes acceleration peaks of peak m/s², gap apart,
// each followed by a rest sample so a detector sees separate spikes.
func ShakeBurst(start time.Duration, peak float64, spikes int, gap time.Duration) Script {
	if gap <= 0 {
		gap = 300 * time.Millisecond
	}
	var out Script
	for i := 0; i < spikes; i++ {
		at := start + time.Duration(i)*gap
		out = append(out,
			Step{At: at, Motion: &model.MotionSample{Acceleration: &model.Vec3{X: peak, Y: peak / 4}}},
			Step{At: at + gap/2, Motion: &model.MotionSample{Acceleration: &model.Vec3{}}},
		)
	}
	return out
}

// OnTarget returns the orientation that exactly matches the page target.
func OnTarget(p model.PageConfig) model.OrientationSample {
	return model.OrientationSample{Alpha: p.TargetAlpha, Beta: p.TargetBeta, Gamma: p.TargetGamma}
}

// OffTarget returns an orientation offset degrees away from the page
// target along the page's axis.
func OffTarget(p model.PageConfig, offset float64) model.OrientationSample {
	s := OnTarget(p)
	switch p.Axis {
	case model.AxisBeta:
		s.Beta += offset
	case model.AxisGamma:
		s.Gamma += offset
	case model.AxisBetaGamma:
		s.Beta += offset
		s.Gamma -= offset
	default:
		s.Alpha = core.NormalizeDegrees(s.Alpha + offset)
	}
	return s
}

// TourOptions shape a Tour.
type TourOptions struct {
	// Search is how long the visitor lingers off target before sweeping
	// in. Longer than the guide delay, the hint appears.
	Search time.Duration
	// Approach is the sweep duration from off target onto it.
	Approach time.Duration
	// Read is how long the visitor holds on target.
	Read time.Duration
	// Offset is the starting distance from the target, in degrees.
	Offset float64
	// Jitter, when positive, makes the reading hold wander by up to that
	// many degrees instead of staying still.
	Jitter float64
	Seed   uint64
	// ShakeAtEnd opens the menu once the last page is read.
	ShakeAtEnd bool
	Rate       time.Duration
}

// DefaultTourOptions lingers long enough to trigger the guide.
func DefaultTourOptions() TourOptions {
	return TourOptions{
		Search:     5 * time.Second,
		Approach:   2 * time.Second,
		Read:       2 * time.Second,
		Offset:     90,
		ShakeAtEnd: true,
		Rate:       250 * time.Millisecond,
	}
}

// Tour visits pages in order: navigate, linger off target, sweep onto the
// target and read.
func Tour(pages []model.PageConfig, opts TourOptions) Script {
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	var (
		out Script
		t   time.Duration
	)
	for i, p := range pages {
		off := OffTarget(p, opts.Offset)
		out = append(out, Step{At: t, Navigate: p.ID})
		out = append(out, Hold(t, off, opts.Search, opts.Rate)...)
		t += opts.Search
		out = append(out, Sweep(t, off, OnTarget(p), opts.Approach, opts.Rate)...)
		t += opts.Approach
		if opts.Jitter > 0 {
			out = append(out, Wander(opts.Seed+uint64(i), t+opts.Rate, OnTarget(p), opts.Jitter, opts.Read, opts.Rate)...)
		} else {
			out = append(out, Hold(t+opts.Rate, OnTarget(p), opts.Read, opts.Rate)...)
		}
		t += opts.Read + 2*opts.Rate
	}
	if opts.ShakeAtEnd {
		out = append(out, ShakeBurst(t, 2*core.DefaultShakeThreshold, 2, 300*time.Millisecond)...)
	}
	return Merge(out)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
