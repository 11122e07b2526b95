package timectrl

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestTimeControllerSetTime(t *testing.T) {
	tc := NewTimeController(epoch, time.Second, RealTime)

	newNow := epoch.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	tc := NewTimeController(epoch, 5*time.Millisecond, Accelerated)

	var ticks int
	tc.AddListener(func(time.Time) { ticks++ })
	<-tc.Start(15*time.Millisecond, nil)

	expected := epoch.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
	if ticks != 3 {
		t.Fatalf("listener called %d times, want 3", ticks)
	}
}

func TestTimeControllerStopsOnSignal(t *testing.T) {
	tc := NewTimeController(epoch, time.Millisecond, RealTime)
	stop := make(chan struct{})
	done := tc.Start(0, stop)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not stop")
	}
}

func TestAfterFiresOnSimulatedTime(t *testing.T) {
	tc := NewTimeController(epoch, 100*time.Millisecond, Accelerated)
	late := tc.After(3 * time.Second)
	early := tc.After(time.Second)

	tc.Advance(500 * time.Millisecond)
	select {
	case <-early:
		t.Fatalf("timer fired before its deadline")
	default:
	}

	tc.Advance(500 * time.Millisecond)
	select {
	case got := <-early:
		if !got.Equal(epoch.Add(time.Second)) {
			t.Fatalf("early fired at %v", got)
		}
	default:
		t.Fatalf("timer did not fire at its deadline")
	}

	tc.SetTime(epoch.Add(time.Hour))
	select {
	case <-late:
	default:
		t.Fatalf("SetTime past the deadline did not fire the timer")
	}

	select {
	case <-tc.After(0):
	default:
		t.Fatalf("After(0) should fire immediately")
	}
}

func TestWallClockIsUTC(t *testing.T) {
	if loc := (WallClock{}).Now().Location(); loc != time.UTC {
		t.Fatalf("WallClock location = %v, want UTC", loc)
	}
}
