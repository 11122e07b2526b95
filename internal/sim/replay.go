package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/timectrl"
)

// Frame is the outcome of one replayed step.
type Frame struct {
	At     time.Time
	Step   Step
	Update *session.Update
	// Events holds clock-driven events that fell due before the step,
	// followed by the events the step itself caused.
	Events []session.Event
}

// Player replays scripts through a session manager that shares its clock.
type Player struct {
	sessions *session.Manager
	clock    *timectrl.TimeController

	// Pace, if set, is called with each gap before the clock advances
	// over it. Real-time replays pass time.Sleep.
	Pace func(time.Duration)
}

// NewPlayer returns a Player. The manager must be built with
// session.WithClock(clock).
func NewPlayer(sessions *session.Manager, clock *timectrl.TimeController) *Player {
	return &Player{sessions: sessions, clock: clock}
}

// Run replays script against the session id, advancing the clock to each
// step's offset from the current time. onFrame, if set, sees every frame
// as it is produced.
func (p *Player) Run(ctx context.Context, id string, script Script, onFrame func(Frame)) ([]Frame, error) {
	start := p.clock.Now()
	frames := make([]Frame, 0, len(script))
	for _, step := range script {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		if due := start.Add(step.At); due.After(p.clock.Now()) {
			gap := due.Sub(p.clock.Now())
			if p.Pace != nil {
				p.Pace(gap)
			}
			p.clock.Advance(gap)
		}
		now := p.clock.Now()

		frame := Frame{At: now, Step: step}
		for _, ev := range p.sessions.Advance(ctx, now) {
			if ev.SessionID == id {
				frame.Events = append(frame.Events, ev)
			}
		}

		upd, err := p.apply(ctx, id, step)
		if err != nil {
			return frames, fmt.Errorf("step at %s: %w", step.At, err)
		}
		if upd != nil {
			frame.Update = upd
			frame.Events = append(frame.Events, upd.Events...)
		}

		frames = append(frames, frame)
		if onFrame != nil {
			onFrame(frame)
		}
	}
	return frames, nil
}

func (p *Player) apply(ctx context.Context, id string, step Step) (*session.Update, error) {
	var (
		upd session.Update
		err error
	)
	switch {
	case step.Navigate != "":
		upd, err = p.sessions.Navigate(ctx, id, step.Navigate)
	case step.Orientation != nil:
		upd, err = p.sessions.ObserveOrientation(ctx, id, *step.Orientation)
	case step.Motion != nil:
		upd, err = p.sessions.ObserveMotion(ctx, id, *step.Motion)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &upd, nil
}
