// Package session owns per-visitor reading state: the current page, its
// unlock latch, the out-of-range guide and the shake-to-menu detector.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rheeghang/docent/core"
	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/settings"
	"github.com/rheeghang/docent/kb"
	"github.com/rheeghang/docent/model"
	"github.com/rheeghang/docent/timectrl"
)

var (
	// ErrSessionNotFound indicates an unknown or expired session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPageNotFound indicates navigation to a page the exhibit does not have.
	ErrPageNotFound = kb.ErrPageNotFound
	// ErrInvalidSample indicates a sensor payload that could not be decoded.
	ErrInvalidSample = errors.New("invalid sensor sample")
)

const tracerName = "github.com/rheeghang/docent/internal/session"

// EventType names what happened in a session.
type EventType string

const (
	EventUnlocked       EventType = "unlocked"
	EventGuideShown     EventType = "guide_shown"
	EventGuideHidden    EventType = "guide_hidden"
	EventMenuOpened     EventType = "menu_opened"
	EventMenuClosed     EventType = "menu_closed"
	EventPageChanged    EventType = "page_changed"
	EventSessionOpened  EventType = "session_opened"
	EventSessionClosed  EventType = "session_closed"
	EventSessionExpired EventType = "session_expired"
)

// Event is a session state change, published to sinks and returned to
// the visitor's client.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	PageID    string    `json:"pageId,omitempty"`
	At        time.Time `json:"at"`
}

// Update is the result of one observation: what the client should render.
type Update struct {
	SessionID    string  `json:"sessionId"`
	PageID       string  `json:"pageId"`
	Blur         float64 `json:"blur"`
	Distance     float64 `json:"distance"`
	InRange      bool    `json:"inRange"`
	Unlocked     bool    `json:"unlocked"`
	GuideVisible bool    `json:"guideVisible"`
	MenuOpen     bool    `json:"menuOpen"`
	Events       []Event `json:"events,omitempty"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID           string            `json:"id"`
	PageID       string            `json:"pageId"`
	Language     string            `json:"language"`
	Permissions  model.Permissions `json:"permissions"`
	Unlocked     bool              `json:"unlocked"`
	Blur         float64           `json:"blur"`
	GuideVisible bool              `json:"guideVisible"`
	MenuOpen     bool              `json:"menuOpen"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastSeen     time.Time         `json:"lastSeen"`
}

// Sink receives every session event.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// MetricsRecorder receives session counters.
type MetricsRecorder interface {
	SetActiveSessions(n int)
	RecordSample(kind string)
	RecordEvent(event, pageID string)
}

// Option customises Manager construction.
type Option func(*Manager)

// WithClock sets the clock used to stamp samples and drive timers.
func WithClock(c timectrl.SimClock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithShakeConfig sets the shake detector configuration for new sessions.
func WithShakeConfig(cfg core.ShakeConfig) Option {
	return func(m *Manager) {
		m.shake = cfg
	}
}

// WithGuideTiming overrides the guide delay and display durations.
func WithGuideTiming(delay, display time.Duration) Option {
	return func(m *Manager) {
		if delay > 0 {
			m.guideDelay = delay
		}
		if display > 0 {
			m.guideDisplay = display
		}
	}
}

// WithTTL expires sessions idle for longer than ttl. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithSink adds an event sink.
func WithSink(s Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
}

// Manager holds every open session. Sessions are independent; each one
// processes its samples serially under its own lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*visitorSession

	pages   *kb.KnowledgeBase
	log     logging.Logger
	clock   timectrl.SimClock
	metrics MetricsRecorder
	sinks   []Sink
	tracer  trace.Tracer

	shake        core.ShakeConfig
	guideDelay   time.Duration
	guideDisplay time.Duration
	ttl          time.Duration
}

// NewManager builds a Manager over the exhibit knowledge base.
func NewManager(pages *kb.KnowledgeBase, log logging.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	m := &Manager{
		sessions:     make(map[string]*visitorSession),
		pages:        pages,
		log:          log,
		clock:        timectrl.WallClock{},
		tracer:       otel.Tracer(tracerName),
		shake:        core.DefaultShakeConfig(),
		guideDelay:   core.DefaultGuideDelay,
		guideDisplay: core.DefaultGuideDisplay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// AddSink registers a sink after construction.
func (m *Manager) AddSink(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Now returns the manager's clock time.
func (m *Manager) Now() time.Time { return m.clock.Now() }

// Create opens a session on the first page of the exhibit. An empty lang
// selects the default language.
func (m *Manager) Create(ctx context.Context, lang string) (Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session.Create")
	defer span.End()

	resolved := settings.DefaultLanguage
	if lang != "" {
		var err error
		if resolved, err = settings.Normalize(lang); err != nil {
			return Snapshot{}, err
		}
	}

	now := m.clock.Now()
	s := &visitorSession{
		id:          uuid.NewString(),
		language:    resolved,
		permissions: model.GrantedPermissions,
		latch:       core.NewUnlockLatch(model.Target{}),
		guide:       &core.GuideTimer{Delay: m.guideDelay, Display: m.guideDisplay},
		shake:       core.NewShakeDetector(m.shake),
		createdAt:   now,
		lastSeen:    now,
	}
	if pages := m.pages.ListPages(); len(pages) > 0 {
		s.pageID = pages[0].ID
		s.latch.Retarget(pages[0].Target())
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	span.SetAttributes(attribute.String("session.id", s.id), attribute.String("session.language", resolved))
	ctx = logging.ContextWithSessionID(ctx, s.id)
	m.log.Info(ctx, "session opened", logging.String("page_id", s.pageID), logging.String("language", resolved))
	m.recordActive(count)
	m.publish(ctx, []Event{{Type: EventSessionOpened, SessionID: s.id, PageID: s.pageID, At: now}})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// List returns snapshots of all open sessions, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	all := make([]*visitorSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	res := make([]Snapshot, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		res = append(res, s.snapshot())
		s.mu.Unlock()
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

// Close removes the session.
func (m *Manager) Close(ctx context.Context, id string) error {
	_, span := m.tracer.Start(ctx, "session.Close", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	pageID := s.pageID
	s.mu.Unlock()

	ctx = logging.ContextWithSessionID(ctx, id)
	m.log.Info(ctx, "session closed")
	m.recordActive(count)
	m.publish(ctx, []Event{{Type: EventSessionClosed, SessionID: id, PageID: pageID, At: m.clock.Now()}})
	return nil
}

// Navigate moves the session to pageID, re-arming the latch and guide.
// Navigating to the current page changes nothing.
func (m *Manager) Navigate(ctx context.Context, id, pageID string) (Update, error) {
	ctx, span := m.tracer.Start(ctx, "session.Navigate", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("page.id", pageID),
	))
	defer span.End()

	s, err := m.lookup(id)
	if err != nil {
		return Update{}, err
	}
	page, err := m.pages.GetPage(pageID)
	if err != nil {
		return Update{}, err
	}

	now := m.clock.Now()
	s.mu.Lock()
	s.lastSeen = now
	var events []Event
	if s.pageID != page.ID {
		s.pageID = page.ID
		s.latch.Retarget(page.Target())
		s.guide.Reset()
		s.blur, s.distance = 0, 0
		s.inRange, s.observed = false, false
		s.warned = false
		events = append(events, Event{Type: EventPageChanged, SessionID: id, PageID: page.ID, At: now})
		if s.menuOpen {
			s.menuOpen = false
			events = append(events, Event{Type: EventMenuClosed, SessionID: id, PageID: page.ID, At: now})
		}
	}
	upd := s.update(events)
	s.mu.Unlock()

	m.publish(logging.ContextWithSessionID(ctx, id), events)
	return upd, nil
}

// CloseMenu dismisses the navigation menu without changing page.
func (m *Manager) CloseMenu(ctx context.Context, id string) (Update, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Update{}, err
	}
	now := m.clock.Now()
	s.mu.Lock()
	s.lastSeen = now
	var events []Event
	if s.menuOpen {
		s.menuOpen = false
		events = append(events, Event{Type: EventMenuClosed, SessionID: id, PageID: s.pageID, At: now})
	}
	upd := s.update(events)
	s.mu.Unlock()

	m.publish(logging.ContextWithSessionID(ctx, id), events)
	return upd, nil
}

// SetPermissions records the outcome of the sensor permission prompts.
// A denied orientation sensor leaves every page readable; a denied motion
// sensor means the menu never opens by shaking.
func (m *Manager) SetPermissions(ctx context.Context, id string, perms model.Permissions) (Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session.SetPermissions", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Bool("permission.orientation", perms.Orientation),
		attribute.Bool("permission.motion", perms.Motion),
	))
	defer span.End()

	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = m.clock.Now()
	ctx = logging.ContextWithSessionID(ctx, id)
	if !perms.Orientation && s.permissions.Orientation {
		m.log.Warn(ctx, "orientation permission denied; content shown unblurred")
		s.guide.Reset()
		s.blur = 0
	}
	if !perms.Motion && s.permissions.Motion {
		m.log.Warn(ctx, "motion permission denied; shake menu disabled")
		s.shake.Reset()
	}
	s.permissions = perms
	return s.snapshot(), nil
}

// SetLanguage changes the session's content language.
func (m *Manager) SetLanguage(ctx context.Context, id, lang string) (Snapshot, error) {
	_, span := m.tracer.Start(ctx, "session.SetLanguage", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	resolved, err := settings.Normalize(lang)
	if err != nil {
		return Snapshot{}, err
	}
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = resolved
	s.lastSeen = m.clock.Now()
	return s.snapshot(), nil
}

func (m *Manager) lookup(id string) (*visitorSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) recordActive(n int) {
	if m.metrics != nil {
		m.metrics.SetActiveSessions(n)
	}
}

// publish hands events to metrics and sinks. It must run without any
// session lock held.
func (m *Manager) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	m.mu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.RUnlock()

	span := trace.SpanFromContext(ctx)
	for _, ev := range events {
		span.AddEvent(string(ev.Type), trace.WithAttributes(attribute.String("page.id", ev.PageID)))
		if m.metrics != nil {
			m.metrics.RecordEvent(string(ev.Type), ev.PageID)
		}
		for _, sink := range sinks {
			if err := sink.Publish(ctx, ev); err != nil {
				m.log.Warn(ctx, "publish session event failed",
					logging.String("event", string(ev.Type)),
					logging.Err(err),
				)
			}
		}
	}
}
