package core

import (
	"math"

	"github.com/rheeghang/docent/model"
)

// finite maps NaN and ±Inf to 0. Browsers report null orientation
// angles on devices without the sensor.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(finite(deg), 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// AngularDistance returns the length of the shortest arc between a and b,
// in [0, 180]. It is symmetric and wraps at 0°/360°, so
// AngularDistance(5, 355) == 10.
func AngularDistance(a, b float64) float64 {
	d := math.Abs(NormalizeDegrees(a) - NormalizeDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// TargetDistance measures how far a sample is from a page target on the
// target's axis. For AxisBetaGamma both angles must match, so the larger
// of the two distances is used.
func TargetDistance(s model.OrientationSample, t model.Target) float64 {
	switch t.Axis {
	case model.AxisBeta:
		return AngularDistance(s.Beta, t.Beta)
	case model.AxisGamma:
		return AngularDistance(s.Gamma, t.Gamma)
	case model.AxisBetaGamma:
		return math.Max(
			AngularDistance(s.Beta, t.Beta),
			AngularDistance(s.Gamma, t.Gamma),
		)
	default:
		return AngularDistance(s.Alpha, t.Alpha)
	}
}
