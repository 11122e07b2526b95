package timectrl

import (
	"sort"
	"sync"
	"time"
)

// SimClock is the time source for session logic. Sessions depend on it
// rather than on time.Now so guide and shake timing can be replayed on
// simulated time.
type SimClock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the clock's time once d has
	// elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

// WallClock is a SimClock backed by the system clock.
type WallClock struct{}

// Now returns time.Now in UTC.
func (WallClock) Now() time.Time { return time.Now().UTC() }

// After delegates to time.After.
func (WallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

type timer struct {
	deadline time.Time
	ch       chan time.Time
}

// TimeController drives simulated time, fires After timers as time passes
// their deadline, and notifies registered listeners on every step.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	timers      []timer
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulated time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// After returns a channel that receives the simulated time once it has
// advanced by at least d. Implements SimClock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if d <= 0 {
		ch <- tc.currentTime
		return ch
	}
	tc.timers = append(tc.timers, timer{deadline: tc.currentTime.Add(d), ch: ch})
	return ch
}

// AddListener registers a callback invoked on every step.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// SetTime jumps the clock to t, firing any timers that fall due. Listeners
// are not invoked.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	due := tc.dueTimers()
	tc.mu.Unlock()
	fire(due, t)
}

// Advance moves simulated time forward by d, fires due timers, then
// invokes listeners with the new time.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	now := tc.currentTime
	due := tc.dueTimers()
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	fire(due, now)
	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// dueTimers removes and returns timers whose deadline has passed, in
// deadline order. Callers hold tc.mu.
func (tc *TimeController) dueTimers() []timer {
	var due, pending []timer
	for _, t := range tc.timers {
		if !t.deadline.After(tc.currentTime) {
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	tc.timers = pending
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due
}

func fire(due []timer, now time.Time) {
	for _, t := range due {
		t.ch <- now
	}
}

// Start runs the controller for the specified duration in a separate
// goroutine, stepping by Tick. RealTime steps are paced by a ticker;
// Accelerated steps run back to back. A zero duration runs until stop is
// closed. The returned channel is closed when the controller finishes.
func (tc *TimeController) Start(duration time.Duration, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		tc.currentTime = tc.StartTime
		tc.mu.Unlock()

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			if tick != nil {
				select {
				case <-tick:
				case <-stop:
					return
				}
			}
			tc.Advance(tc.Tick)
			elapsed += tc.Tick
		}
	}()
	return done
}
