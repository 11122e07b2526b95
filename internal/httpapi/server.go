// Package httpapi is the JSON REST surface of the docent server.
package httpapi

import (
	"net/http"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/observability"
	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/internal/settings"
	"github.com/rheeghang/docent/kb"
)

// Deps are the collaborators the API serves from. Metrics, Visitors and
// Monitor are optional.
type Deps struct {
	Sessions *session.Manager
	Pages    *kb.KnowledgeBase
	Settings settings.Store
	Log      logging.Logger
	Metrics  *observability.DocentCollector
	Visitors http.Handler
	Monitor  http.Handler
}

// Server routes HTTP requests to handlers.
type Server struct {
	sessions *session.Manager
	pages    *kb.KnowledgeBase
	settings settings.Store
	log      logging.Logger
	metrics  *observability.DocentCollector
	visitors http.Handler
	monitor  http.Handler
}

// NewServer builds a Server. A nil settings store falls back to memory.
func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = logging.Noop()
	}
	if d.Settings == nil {
		d.Settings = settings.NewMemoryStore()
	}
	return &Server{
		sessions: d.Sessions,
		pages:    d.Pages,
		settings: d.Settings,
		log:      d.Log,
		metrics:  d.Metrics,
		visitors: d.Visitors,
		monitor:  d.Monitor,
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, s.metrics.Instrument(name, Trace(name, h)))
	}

	route("POST /api/sessions", "/api/sessions", s.createSession)
	route("GET /api/sessions", "/api/sessions", s.listSessions)
	route("GET /api/sessions/{id}", "/api/sessions/{id}", s.getSession)
	route("DELETE /api/sessions/{id}", "/api/sessions/{id}", s.closeSession)
	route("POST /api/sessions/{id}/navigate", "/api/sessions/{id}/navigate", s.navigate)
	route("POST /api/sessions/{id}/orientation", "/api/sessions/{id}/orientation", s.observeOrientation)
	route("POST /api/sessions/{id}/motion", "/api/sessions/{id}/motion", s.observeMotion)
	route("POST /api/sessions/{id}/permissions", "/api/sessions/{id}/permissions", s.setPermissions)
	route("POST /api/sessions/{id}/language", "/api/sessions/{id}/language", s.setLanguage)
	route("POST /api/sessions/{id}/menu/close", "/api/sessions/{id}/menu/close", s.closeMenu)
	route("GET /api/pages", "/api/pages", s.listPages)
	route("GET /api/pages/{id}", "/api/pages/{id}", s.getPage)
	route("GET /api/menu", "/api/menu", s.menu)
	route("GET /api/visitors/{id}/settings", "/api/visitors/{id}/settings", s.getSettings)
	route("PUT /api/visitors/{id}/settings", "/api/visitors/{id}/settings", s.putSettings)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.visitors != nil {
		mux.Handle("GET /ws/visit", s.metrics.Instrument("/ws/visit", s.visitors))
	}
	if s.monitor != nil {
		mux.Handle("GET /ws/monitor", s.metrics.Instrument("/ws/monitor", s.monitor))
	}

	return RequestID(s.log, Recover(s.log, mux))
}
