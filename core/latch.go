package core

import "github.com/rheeghang/docent/model"

// UnlockLatch is the one-way LOCKED→UNLOCKED transition of a page. Once
// unlocked it stays unlocked, whatever the device does, until the target
// changes or Reset is called.
type UnlockLatch struct {
	target   model.Target
	unlocked bool
}

// NewUnlockLatch returns a locked latch for target.
func NewUnlockLatch(target model.Target) *UnlockLatch {
	return &UnlockLatch{target: target}
}

// Target returns the target the latch is armed for.
func (l *UnlockLatch) Target() model.Target { return l.target }

// Unlocked reports whether the latch has fired.
func (l *UnlockLatch) Unlocked() bool { return l.unlocked }

// Observe feeds one distance measurement. It returns true only on the
// observation that moves the latch from locked to unlocked.
func (l *UnlockLatch) Observe(distance float64, bp BlurProfile) bool {
	if l.unlocked {
		return false
	}
	if bp.InRange(distance) {
		l.unlocked = true
		return true
	}
	return false
}

// Retarget re-arms the latch when target differs from the current one and
// reports whether it did. Navigating to the page already shown is not a
// target change.
func (l *UnlockLatch) Retarget(target model.Target) bool {
	if target == l.target {
		return false
	}
	l.target = target
	l.unlocked = false
	return true
}

// Reset forces the latch back to locked on the same target.
func (l *UnlockLatch) Reset() {
	l.unlocked = false
}

// Blur applies the latch to a raw blur value: pinned to 0 once unlocked.
func (l *UnlockLatch) Blur(raw float64) float64 {
	if l.unlocked {
		return 0
	}
	return raw
}
