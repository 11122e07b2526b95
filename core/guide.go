package core

import "time"

const (
	// DefaultGuideDelay is how long a visitor must stay out of range
	// before the hint appears.
	DefaultGuideDelay = 4000 * time.Millisecond
	// DefaultGuideDisplay is how long the hint stays up.
	DefaultGuideDisplay = 3000 * time.Millisecond
)

// GuideEvent is what a GuideTimer asks the caller to do.
type GuideEvent int

const (
	GuideNone GuideEvent = iota
	GuideShow
	GuideHide
)

func (e GuideEvent) String() string {
	switch e {
	case GuideShow:
		return "show"
	case GuideHide:
		return "hide"
	default:
		return "none"
	}
}

// GuideTimer surfaces a one-shot hint after a sustained out-of-range
// stretch and dismisses it after a fixed display time. It fires at most
// once between resets.
type GuideTimer struct {
	Delay   time.Duration
	Display time.Duration

	outSince time.Time
	shownAt  time.Time
	fired    bool
	visible  bool
}

// NewGuideTimer returns a timer with the default 4s delay and 3s display.
func NewGuideTimer() *GuideTimer {
	return &GuideTimer{Delay: DefaultGuideDelay, Display: DefaultGuideDisplay}
}

// Visible reports whether the hint is currently shown.
func (g *GuideTimer) Visible() bool { return g.visible }

// Fired reports whether the hint has been shown since the last reset.
func (g *GuideTimer) Fired() bool { return g.fired }

// Observe records whether the device is in range at now.
func (g *GuideTimer) Observe(inRange bool, now time.Time) GuideEvent {
	if ev := g.Tick(now); ev != GuideNone {
		return ev
	}
	if g.fired {
		return GuideNone
	}
	if inRange {
		g.outSince = time.Time{}
		return GuideNone
	}
	if g.outSince.IsZero() {
		g.outSince = now
		return GuideNone
	}
	if now.Sub(g.outSince) >= g.Delay {
		g.fired = true
		g.visible = true
		g.shownAt = now
		return GuideShow
	}
	return GuideNone
}

// Tick advances the display timer without a new observation. It returns
// GuideHide once the hint has been up for Display.
func (g *GuideTimer) Tick(now time.Time) GuideEvent {
	if g.visible && now.Sub(g.shownAt) >= g.Display {
		g.visible = false
		return GuideHide
	}
	return GuideNone
}

// Reset re-arms the timer and hides any visible hint.
func (g *GuideTimer) Reset() {
	g.outSince = time.Time{}
	g.shownAt = time.Time{}
	g.fired = false
	g.visible = false
}
