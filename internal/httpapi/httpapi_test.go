package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/observability"
	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/internal/settings"
	"github.com/rheeghang/docent/kb"
	"github.com/rheeghang/docent/model"
	"github.com/rheeghang/docent/timectrl"
)

type testEnv struct {
	srv      *httptest.Server
	sessions *session.Manager
	settings *settings.MemoryStore
	metrics  *observability.DocentCollector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pages := kb.NewKnowledgeBase("ko")
	for _, p := range []model.PageConfig{
		{ID: "home", Kind: model.PageKindHome, Order: 0, Axis: model.AxisAlpha, Tolerance: 25},
		{ID: "artwork-1", Kind: model.PageKindArtwork, Order: 1, Axis: model.AxisAlpha, TargetAlpha: 45,
			Tolerance: 25, ClearThreshold: 35, MaxDistance: 45, MaxBlur: 30},
	} {
		if err := pages.AddPage(p); err != nil {
			t.Fatalf("AddPage(%s) error = %v", p.ID, err)
		}
	}
	pages.PutContent("ko", "artwork-1", model.PageContent{Title: "기울어진 풍경", Artist: "김작가"})
	pages.PutContent("en", "artwork-1", model.PageContent{Title: "Tilted Landscape", Artist: "Kim"})

	clock := timectrl.NewTimeController(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), time.Second, timectrl.Accelerated)
	collector, err := observability.NewDocentCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDocentCollector() error = %v", err)
	}
	mgr := session.NewManager(pages, logging.Noop(), session.WithClock(clock), session.WithMetricsRecorder(collector))
	store := settings.NewMemoryStore()

	srv := httptest.NewServer(NewServer(Deps{
		Sessions: mgr,
		Pages:    pages,
		Settings: store,
		Log:      logging.Noop(),
		Metrics:  collector,
	}).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, sessions: mgr, settings: store, metrics: collector}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func createSession(t *testing.T, e *testEnv, body string, header map[string]string) session.Snapshot {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/sessions", body, header)
	expectStatus(t, resp, http.StatusCreated)
	var snap session.Snapshot
	decodeBody(t, resp, &snap)
	return snap
}

func TestCreateSessionUsesAcceptLanguage(t *testing.T) {
	e := newTestEnv(t)

	snap := createSession(t, e, "", map[string]string{"Accept-Language": "en-GB,en;q=0.8"})
	if snap.Language != "en" {
		t.Fatalf("language = %q, want en", snap.Language)
	}
	if snap.PageID != "home" {
		t.Fatalf("page = %q, want home", snap.PageID)
	}

	def := createSession(t, e, `{}`, nil)
	if def.Language != settings.DefaultLanguage {
		t.Fatalf("default language = %q, want %q", def.Language, settings.DefaultLanguage)
	}
}

func TestCreateSessionRemembersVisitorLanguage(t *testing.T) {
	e := newTestEnv(t)

	createSession(t, e, `{"language":"en","visitorId":"v-1"}`, nil)
	stored, err := e.settings.Load(context.Background(), "v-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if stored.Language != "en" {
		t.Fatalf("stored language = %q, want en", stored.Language)
	}

	// A later visit without an explicit choice picks the stored language
	// over the browser header.
	snap := createSession(t, e, `{"visitorId":"v-1"}`, map[string]string{"Accept-Language": "ko"})
	if snap.Language != "en" {
		t.Fatalf("returning visitor language = %q, want en", snap.Language)
	}
}

func TestNavigateAndObserveOrientation(t *testing.T) {
	e := newTestEnv(t)
	snap := createSession(t, e, "", nil)
	base := "/api/sessions/" + snap.ID

	resp := e.do(t, http.MethodPost, base+"/navigate", `{"pageId":"artwork-1"}`, nil)
	expectStatus(t, resp, http.StatusOK)
	var nav session.Update
	decodeBody(t, resp, &nav)
	if nav.PageID != "artwork-1" || nav.Unlocked {
		t.Fatalf("navigate update = %+v, want locked artwork-1", nav)
	}

	resp = e.do(t, http.MethodPost, base+"/orientation", `{"alpha":45,"beta":0,"gamma":0}`, nil)
	expectStatus(t, resp, http.StatusOK)
	var upd session.Update
	decodeBody(t, resp, &upd)
	if !upd.Unlocked || upd.Blur != 0 || !upd.InRange {
		t.Fatalf("orientation update = %+v, want unlocked, in range, blur 0", upd)
	}
	if len(upd.Events) != 1 || upd.Events[0].Type != session.EventUnlocked {
		t.Fatalf("events = %+v, want one unlocked", upd.Events)
	}

	resp = e.do(t, http.MethodGet, base, "", nil)
	expectStatus(t, resp, http.StatusOK)
	var got session.Snapshot
	decodeBody(t, resp, &got)
	if !got.Unlocked {
		t.Fatalf("snapshot unlocked = false, want true")
	}

	if v := testutil.ToFloat64(e.metrics.HTTPRequests.WithLabelValues("/api/sessions/{id}/orientation", "POST", "200")); v != 1 {
		t.Fatalf("orientation request count = %v, want 1", v)
	}
}

func TestMotionOpensMenuAndCloseMenu(t *testing.T) {
	e := newTestEnv(t)
	snap := createSession(t, e, "", nil)
	base := "/api/sessions/" + snap.ID

	resp := e.do(t, http.MethodPost, base+"/motion", `{"acceleration":{"x":20,"y":0,"z":0}}`, nil)
	expectStatus(t, resp, http.StatusOK)
	var upd session.Update
	decodeBody(t, resp, &upd)
	if !upd.MenuOpen {
		t.Fatalf("menu open = false after shake, want true")
	}

	resp = e.do(t, http.MethodPost, base+"/menu/close", "", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &upd)
	if upd.MenuOpen {
		t.Fatalf("menu open = true after close, want false")
	}
}

func TestPermissionsAndLanguage(t *testing.T) {
	e := newTestEnv(t)
	snap := createSession(t, e, "", nil)
	base := "/api/sessions/" + snap.ID

	resp := e.do(t, http.MethodPost, base+"/permissions", `{"orientation":false,"motion":true}`, nil)
	expectStatus(t, resp, http.StatusOK)
	var got session.Snapshot
	decodeBody(t, resp, &got)
	if got.Permissions.Orientation || !got.Permissions.Motion {
		t.Fatalf("permissions = %+v, want orientation denied", got.Permissions)
	}

	resp = e.do(t, http.MethodPost, base+"/language", `{"language":"en-US","visitorId":"v-2"}`, nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &got)
	if got.Language != "en" {
		t.Fatalf("language = %q, want en", got.Language)
	}
	if stored, err := e.settings.Load(context.Background(), "v-2"); err != nil || stored.Language != "en" {
		t.Fatalf("stored settings = %+v, %v; want en", stored, err)
	}

	resp = e.do(t, http.MethodPost, base+"/language", `{"language":"fr"}`, nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestErrorResponses(t *testing.T) {
	e := newTestEnv(t)
	snap := createSession(t, e, "", nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", "", http.StatusNotFound},
		{"unknown session navigate", http.MethodPost, "/api/sessions/nope/navigate", `{"pageId":"home"}`, http.StatusNotFound},
		{"unknown page", http.MethodPost, "/api/sessions/" + snap.ID + "/navigate", `{"pageId":"missing"}`, http.StatusNotFound},
		{"missing page id", http.MethodPost, "/api/sessions/" + snap.ID + "/navigate", `{}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/sessions/" + snap.ID + "/orientation", `{"alpha":`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/sessions/" + snap.ID + "/motion", "", http.StatusBadRequest},
		{"unsupported language", http.MethodPost, "/api/sessions", `{"language":"xx"}`, http.StatusBadRequest},
		{"unknown page content", http.MethodGet, "/api/pages/missing", "", http.StatusNotFound},
		{"wrong method", http.MethodPatch, "/api/sessions", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := e.do(t, tc.method, tc.path, tc.body, map[string]string{"X-Request-ID": "req-" + tc.name})
			expectStatus(t, resp, tc.want)
			if tc.want == http.StatusMethodNotAllowed {
				return
			}
			var body errorBody
			decodeBody(t, resp, &body)
			if body.Status != tc.want || body.Error == "" {
				t.Fatalf("error body = %+v, want status %d with message", body, tc.want)
			}
			if body.RequestID != "req-"+tc.name {
				t.Fatalf("request id = %q, want %q", body.RequestID, "req-"+tc.name)
			}
		})
	}
}

func TestDeleteSession(t *testing.T) {
	e := newTestEnv(t)
	snap := createSession(t, e, "", nil)

	resp := e.do(t, http.MethodDelete, "/api/sessions/"+snap.ID, "", nil)
	expectStatus(t, resp, http.StatusNoContent)

	resp = e.do(t, http.MethodDelete, "/api/sessions/"+snap.ID, "", nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = e.do(t, http.MethodGet, "/api/sessions", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []session.Snapshot
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("sessions after delete = %d, want 0", len(list))
	}
}

func TestPagesAndMenu(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/pages", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var pages []model.PageConfig
	decodeBody(t, resp, &pages)
	if len(pages) != 2 || pages[0].ID != "home" {
		t.Fatalf("pages = %+v, want home then artwork-1", pages)
	}

	resp = e.do(t, http.MethodGet, "/api/pages/artwork-1?lang=en", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var page pageResponse
	decodeBody(t, resp, &page)
	if page.Content == nil || page.Content.Title != "Tilted Landscape" || page.Language != "en" {
		t.Fatalf("page response = %+v, want english content", page)
	}

	resp = e.do(t, http.MethodGet, "/api/pages/home", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var home pageResponse
	decodeBody(t, resp, &home)
	if home.Page.ID != "home" || home.Content != nil {
		t.Fatalf("home response = %+v, want page without content", home)
	}

	resp = e.do(t, http.MethodGet, "/api/menu", "", map[string]string{"Accept-Language": "ko-KR"})
	expectStatus(t, resp, http.StatusOK)
	var menu menuResponse
	decodeBody(t, resp, &menu)
	if menu.Language != "ko" {
		t.Fatalf("menu language = %q, want ko", menu.Language)
	}
	found := false
	for _, entry := range menu.Entries {
		if entry.PageID == "artwork-1" && entry.Title == "기울어진 풍경" {
			found = true
		}
	}
	if !found {
		t.Fatalf("menu entries = %+v, want korean artwork-1 title", menu.Entries)
	}
}

func TestVisitorSettings(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/visitors/v-9/settings", "", nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = e.do(t, http.MethodPut, "/api/visitors/v-9/settings", `{"language":"EN"}`, nil)
	expectStatus(t, resp, http.StatusOK)
	var st settings.Settings
	decodeBody(t, resp, &st)
	if st.Language != "en" || st.UpdatedAt.IsZero() {
		t.Fatalf("saved settings = %+v, want en with timestamp", st)
	}

	resp = e.do(t, http.MethodPut, "/api/visitors/v-9/settings", `{"language":"de"}`, nil)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = e.do(t, http.MethodGet, "/api/visitors/v-9/settings", "", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &st)
	if st.Language != "en" {
		t.Fatalf("loaded language = %q, want en", st.Language)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("missing %s header", requestIDHeader)
	}
}

func TestRecoverRendersInternalError(t *testing.T) {
	h := RequestID(logging.Noop(), Recover(logging.Noop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Fatalf("panic value leaked in body: %s", rr.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("get: %w", session.ErrSessionNotFound), http.StatusNotFound},
		{kb.ErrPageNotFound, http.StatusNotFound},
		{kb.ErrContentNotFound, http.StatusNotFound},
		{settings.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x", ErrBadRequest), http.StatusBadRequest},
		{session.ErrInvalidSample, http.StatusBadRequest},
		{settings.ErrUnsupportedLanguage, http.StatusBadRequest},
		{settings.ErrInvalidVisitor, http.StatusBadRequest},
		{kb.ErrPageExists, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInternalErrorHidesMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rr, req, logging.Noop(), errors.New("bolt: database not open"))

	var body errorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != http.StatusText(http.StatusInternalServerError) {
		t.Fatalf("error = %q, want generic text", body.Error)
	}
}
