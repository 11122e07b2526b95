package core

import (
	"math"
	"strings"
	"time"

	"github.com/rheeghang/docent/model"
)

// StandardGravity in m/s².
const StandardGravity = 9.80665

const (
	DefaultShakeThreshold = 15.0
	DefaultShakeDebounce  = 1000 * time.Millisecond
	DefaultShakeWindow    = 1000 * time.Millisecond
)

// ShakeMode selects how many spikes open the menu.
type ShakeMode int

const (
	// ShakeSingle fires on any above-threshold sample outside the debounce.
	ShakeSingle ShakeMode = iota
	// ShakeDouble needs two separate spikes within the window.
	ShakeDouble
)

// ParseShakeMode maps "single"/"double" to a mode, defaulting to single.
func ParseShakeMode(s string) ShakeMode {
	if strings.EqualFold(strings.TrimSpace(s), "double") {
		return ShakeDouble
	}
	return ShakeSingle
}

func (m ShakeMode) String() string {
	if m == ShakeDouble {
		return "double"
	}
	return "single"
}

// ShakeConfig tunes a ShakeDetector.
type ShakeConfig struct {
	Mode      ShakeMode
	Threshold float64       // m/s², compared against gravity-free magnitude
	Debounce  time.Duration // minimum gap between firings
	Window    time.Duration // ShakeDouble: max gap between the two spikes
	// PreferGravity measures AccelerationIncludingGravity even when the
	// gravity-free vector is available.
	PreferGravity bool
}

// DefaultShakeConfig is a single-shake detector at 15 m/s² with a 1s debounce.
func DefaultShakeConfig() ShakeConfig {
	return ShakeConfig{
		Mode:      ShakeSingle,
		Threshold: DefaultShakeThreshold,
		Debounce:  DefaultShakeDebounce,
		Window:    DefaultShakeWindow,
	}
}

// ShakeDetector turns acceleration samples into menu-open triggers.
type ShakeDetector struct {
	cfg ShakeConfig

	lastFire  time.Time
	lastSpike time.Time
	above     bool
}

// NewShakeDetector returns a detector, filling zero config fields from
// DefaultShakeConfig.
func NewShakeDetector(cfg ShakeConfig) *ShakeDetector {
	def := DefaultShakeConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &ShakeDetector{cfg: cfg}
}

// Config returns the detector's effective configuration.
func (d *ShakeDetector) Config() ShakeConfig { return d.cfg }

// Magnitude returns the gravity-free acceleration magnitude of s. When
// only the gravity-inclusive vector is usable, gravity is removed from
// its norm. A sample with neither vector has magnitude 0.
func Magnitude(s model.MotionSample, preferGravity bool) float64 {
	linear, withG := s.Acceleration, s.AccelerationIncludingGravity
	switch {
	case linear != nil && (!preferGravity || withG == nil):
		return norm(*linear)
	case withG != nil:
		return math.Abs(norm(*withG) - StandardGravity)
	default:
		return 0
	}
}

func norm(v model.Vec3) float64 {
	x, y, z := finite(v.X), finite(v.Y), finite(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

// Observe feeds one sample and reports whether the menu should open.
func (d *ShakeDetector) Observe(s model.MotionSample) bool {
	now := s.Timestamp
	mag := Magnitude(s, d.cfg.PreferGravity)
	above := mag > d.cfg.Threshold
	rising := above && !d.above
	d.above = above

	if !above {
		return false
	}
	if !d.lastFire.IsZero() && now.Sub(d.lastFire) < d.cfg.Debounce {
		return false
	}

	switch d.cfg.Mode {
	case ShakeDouble:
		if !rising {
			return false
		}
		if !d.lastSpike.IsZero() && now.Sub(d.lastSpike) <= d.cfg.Window {
			d.lastSpike = time.Time{}
			d.lastFire = now
			return true
		}
		d.lastSpike = now
		return false
	default:
		d.lastFire = now
		return true
	}
}

// Reset forgets spike and debounce history.
func (d *ShakeDetector) Reset() {
	d.lastFire = time.Time{}
	d.lastSpike = time.Time{}
	d.above = false
}
