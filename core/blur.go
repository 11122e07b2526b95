package core

import (
	"errors"
	"fmt"

	"github.com/rheeghang/docent/model"
)

// ClearBlur is the blur reached at the edge of the clear band. Past it the
// ramp continues to MaxBlur.
const ClearBlur = 3.0

var (
	// ErrInvalidProfile indicates a blur profile whose bands are out of order.
	ErrInvalidProfile = errors.New("invalid blur profile")
)

// BlurProfile maps angular distance to a blur radius.
//
// When ClearThreshold is greater than Tolerance the ramp has two bands:
// 0→ClearBlur across (Tolerance, ClearThreshold] and ClearBlur→MaxBlur
// across (ClearThreshold, MaxDistance]. With ClearThreshold unset it is a
// single 0→MaxBlur ramp across (Tolerance, MaxDistance].
type BlurProfile struct {
	Tolerance      float64
	ClearThreshold float64
	MaxDistance    float64
	MaxBlur        float64
}

// DefaultBlurProfile is used for pages that leave every band unset.
var DefaultBlurProfile = BlurProfile{
	Tolerance:      25,
	ClearThreshold: 35,
	MaxDistance:    45,
	MaxBlur:        30,
}

// ProfileFor extracts the blur profile of a page, filling unset bands
// from DefaultBlurProfile.
func ProfileFor(p model.PageConfig) BlurProfile {
	bp := BlurProfile{
		Tolerance:      p.Tolerance,
		ClearThreshold: p.ClearThreshold,
		MaxDistance:    p.MaxDistance,
		MaxBlur:        p.MaxBlur,
	}
	if bp == (BlurProfile{}) {
		return DefaultBlurProfile
	}
	if bp.MaxBlur == 0 {
		bp.MaxBlur = DefaultBlurProfile.MaxBlur
	}
	if bp.MaxDistance == 0 {
		bp.MaxDistance = max(bp.ClearThreshold, bp.Tolerance) + 10
	}
	return bp
}

// Validate reports bands that are negative or out of order.
func (bp BlurProfile) Validate() error {
	switch {
	case bp.Tolerance < 0:
		return fmt.Errorf("%w: negative tolerance %.1f", ErrInvalidProfile, bp.Tolerance)
	case bp.MaxBlur <= 0:
		return fmt.Errorf("%w: max blur must be positive, got %.1f", ErrInvalidProfile, bp.MaxBlur)
	case bp.twoBand() && bp.MaxDistance < bp.ClearThreshold:
		return fmt.Errorf("%w: max distance %.1f below clear threshold %.1f", ErrInvalidProfile, bp.MaxDistance, bp.ClearThreshold)
	case bp.MaxDistance < bp.Tolerance:
		return fmt.Errorf("%w: max distance %.1f below tolerance %.1f", ErrInvalidProfile, bp.MaxDistance, bp.Tolerance)
	case bp.Tolerance > 180:
		return fmt.Errorf("%w: tolerance %.1f exceeds half turn", ErrInvalidProfile, bp.Tolerance)
	}
	return nil
}

func (bp BlurProfile) twoBand() bool {
	return bp.ClearThreshold > bp.Tolerance
}

// InRange reports whether distance d is within tolerance.
func (bp BlurProfile) InRange(d float64) bool {
	return finite(d) <= bp.Tolerance
}

// Blur returns the blur radius for angular distance d, in [0, MaxBlur].
// It is 0 within tolerance and non-decreasing in d.
func (bp BlurProfile) Blur(d float64) float64 {
	d = finite(d)
	if d < 0 {
		d = -d
	}
	if d <= bp.Tolerance {
		return 0
	}
	if d >= bp.MaxDistance {
		return bp.MaxBlur
	}

	var blur float64
	if bp.twoBand() {
		edge := min(ClearBlur, bp.MaxBlur)
		if d <= bp.ClearThreshold {
			blur = lerp(d, bp.Tolerance, bp.ClearThreshold, 0, edge)
		} else {
			blur = lerp(d, bp.ClearThreshold, bp.MaxDistance, edge, bp.MaxBlur)
		}
	} else {
		blur = lerp(d, bp.Tolerance, bp.MaxDistance, 0, bp.MaxBlur)
	}
	return clamp(blur, 0, bp.MaxBlur)
}

func lerp(x, x0, x1, y0, y1 float64) float64 {
	if x1 <= x0 {
		return y1
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
