package session

import (
	"context"
	"sync"
	"time"

	"github.com/rheeghang/docent/core"
	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/kb"
	"github.com/rheeghang/docent/model"
)

// visitorSession is guarded by mu; the manager never holds mu while
// publishing events.
type visitorSession struct {
	mu sync.Mutex

	id          string
	pageID      string
	language    string
	permissions model.Permissions

	latch *core.UnlockLatch
	guide *core.GuideTimer
	shake *core.ShakeDetector

	blur     float64
	distance float64
	inRange  bool
	observed bool
	menuOpen bool
	// warned is set once a broken page config has been logged.
	warned bool

	createdAt time.Time
	lastSeen  time.Time
}

func (s *visitorSession) snapshot() Snapshot {
	return Snapshot{
		ID:           s.id,
		PageID:       s.pageID,
		Language:     s.language,
		Permissions:  s.permissions,
		Unlocked:     s.latch.Unlocked(),
		Blur:         s.blur,
		GuideVisible: s.guide.Visible(),
		MenuOpen:     s.menuOpen,
		CreatedAt:    s.createdAt,
		LastSeen:     s.lastSeen,
	}
}

func (s *visitorSession) update(events []Event) Update {
	return Update{
		SessionID:    s.id,
		PageID:       s.pageID,
		Blur:         s.blur,
		Distance:     s.distance,
		InRange:      s.inRange,
		Unlocked:     s.latch.Unlocked(),
		GuideVisible: s.guide.Visible(),
		MenuOpen:     s.menuOpen,
		Events:       events,
	}
}

func (s *visitorSession) guideEvent(ev core.GuideEvent, now time.Time) []Event {
	switch ev {
	case core.GuideShow:
		return []Event{{Type: EventGuideShown, SessionID: s.id, PageID: s.pageID, At: now}}
	case core.GuideHide:
		return []Event{{Type: EventGuideHidden, SessionID: s.id, PageID: s.pageID, At: now}}
	default:
		return nil
	}
}

// ObserveOrientation feeds one orientation sample into the session and
// returns what the client should render. Samples are stamped with the
// manager's clock on arrival.
func (m *Manager) ObserveOrientation(ctx context.Context, id string, sample model.OrientationSample) (Update, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Update{}, err
	}
	if m.metrics != nil {
		m.metrics.RecordSample("orientation")
	}
	ctx = logging.ContextWithSessionID(ctx, id)

	now := m.clock.Now()
	sample.Timestamp = now

	s.mu.Lock()
	s.lastSeen = now
	events := m.observeOrientationLocked(ctx, s, sample, now)
	upd := s.update(events)
	s.mu.Unlock()

	m.publish(ctx, events)
	return upd, nil
}

func (m *Manager) observeOrientationLocked(ctx context.Context, s *visitorSession, sample model.OrientationSample, now time.Time) []Event {
	if !s.permissions.Orientation {
		s.blur, s.distance, s.inRange = 0, 0, true
		return s.guideEvent(s.guide.Tick(now), now)
	}

	page, ok := m.activePageLocked(ctx, s)
	if !ok {
		s.blur, s.distance, s.inRange = 0, 0, false
		return nil
	}

	var events []Event
	if s.latch.Retarget(page.Target()) {
		// Page config was replaced under the session.
		s.guide.Reset()
	}

	bp := core.ProfileFor(page)
	d := core.TargetDistance(sample, page.Target())
	s.distance = d
	s.inRange = bp.InRange(d)
	s.observed = true

	if s.latch.Observe(d, bp) {
		events = append(events, Event{Type: EventUnlocked, SessionID: s.id, PageID: s.pageID, At: now})
		m.log.Debug(ctx, "page unlocked", logging.String("page_id", s.pageID), logging.Float64("distance", d))
	}
	s.blur = s.latch.Blur(bp.Blur(d))

	if s.latch.Unlocked() {
		events = append(events, s.guideEvent(s.guide.Tick(now), now)...)
	} else {
		events = append(events, s.guideEvent(s.guide.Observe(s.inRange, now), now)...)
	}
	return events
}

// activePageLocked returns the current page if it can drive the blur
// mapper. A missing or malformed config is logged once per page visit.
func (m *Manager) activePageLocked(ctx context.Context, s *visitorSession) (model.PageConfig, bool) {
	if s.pageID == "" {
		return model.PageConfig{}, false
	}
	page, err := m.pages.GetPage(s.pageID)
	if err == nil {
		err = core.ValidatePage(page)
	}
	if err != nil {
		if !s.warned {
			s.warned = true
			m.log.Warn(ctx, "page config unusable; rendering unblurred", logging.String("page_id", s.pageID), logging.Err(err))
		}
		return model.PageConfig{}, false
	}
	return page, true
}

// ObserveMotion feeds one motion sample and opens the menu on a shake.
func (m *Manager) ObserveMotion(ctx context.Context, id string, sample model.MotionSample) (Update, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Update{}, err
	}
	if m.metrics != nil {
		m.metrics.RecordSample("motion")
	}
	ctx = logging.ContextWithSessionID(ctx, id)

	now := m.clock.Now()
	sample.Timestamp = now

	s.mu.Lock()
	s.lastSeen = now
	var events []Event
	if s.permissions.Motion && s.shake.Observe(sample) && !s.menuOpen {
		s.menuOpen = true
		events = append(events, Event{Type: EventMenuOpened, SessionID: s.id, PageID: s.pageID, At: now})
	}
	upd := s.update(events)
	s.mu.Unlock()

	m.publish(ctx, events)
	return upd, nil
}

// Advance runs clock-driven work at now: guide hints that are due to show
// or hide, and expiry of sessions idle past the TTL. It returns the events
// it emitted.
func (m *Manager) Advance(ctx context.Context, now time.Time) []Event {
	m.mu.RLock()
	all := make([]*visitorSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var (
		events  []Event
		expired []string
	)
	for _, s := range all {
		s.mu.Lock()
		if m.ttl > 0 && now.Sub(s.lastSeen) >= m.ttl {
			expired = append(expired, s.id)
			s.mu.Unlock()
			continue
		}
		var ev core.GuideEvent
		if s.observed && !s.inRange && !s.latch.Unlocked() && s.permissions.Orientation {
			ev = s.guide.Observe(false, now)
		} else {
			ev = s.guide.Tick(now)
		}
		events = append(events, s.guideEvent(ev, now)...)
		s.mu.Unlock()
	}

	if len(expired) > 0 {
		reaped, active := m.reap(expired, now)
		events = append(events, reaped...)
		m.recordActive(active)
		if len(reaped) > 0 {
			m.log.Info(ctx, "expired idle sessions", logging.Int("count", len(reaped)), logging.Int("active", active))
		}
	}

	m.publish(ctx, events)
	return events
}

// reap deletes the candidates still idle past the TTL at now. A session
// touched since it was picked is spared. It returns one expiry event per
// deletion and the number of sessions left.
func (m *Manager) reap(candidates []string, now time.Time) ([]Event, int) {
	var events []Event
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range candidates {
		s, ok := m.sessions[id]
		if !ok {
			continue
		}
		s.mu.Lock()
		if now.Sub(s.lastSeen) >= m.ttl {
			delete(m.sessions, id)
			events = append(events, Event{Type: EventSessionExpired, SessionID: id, PageID: s.pageID, At: now})
		}
		s.mu.Unlock()
	}
	return events, len(m.sessions)
}

// WatchPages relocks sessions sitting on a page whose config is replaced
// in the knowledge base, without waiting for their next sample.
func (m *Manager) WatchPages(ctx context.Context) (stop func()) {
	return m.pages.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventPageUpdated {
			m.pageReplaced(ctx, ev.Page)
		}
	})
}

func (m *Manager) pageReplaced(ctx context.Context, page model.PageConfig) {
	valid := core.ValidatePage(page) == nil

	m.mu.RLock()
	all := make([]*visitorSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	relocked := 0
	for _, s := range all {
		s.mu.Lock()
		if s.pageID == page.ID {
			s.warned = false
			if valid && s.latch.Retarget(page.Target()) {
				s.guide.Reset()
				s.observed = false
				relocked++
			}
		}
		s.mu.Unlock()
	}
	if relocked > 0 {
		m.log.Info(ctx, "page config replaced; relocked sessions",
			logging.String("page_id", page.ID), logging.Int("sessions", relocked))
	}
}
