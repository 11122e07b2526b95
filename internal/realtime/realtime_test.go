package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/kb"
	"github.com/rheeghang/docent/model"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readOutbound(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var out Outbound
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testManager(t *testing.T) *session.Manager {
	t.Helper()
	pages := kb.NewKnowledgeBase("ko")
	for _, p := range []model.PageConfig{
		{ID: "home", Order: 0, Axis: model.AxisAlpha, Tolerance: 25},
		{ID: "artwork-1", Order: 1, Axis: model.AxisAlpha, TargetAlpha: 45, Tolerance: 25, ClearThreshold: 35, MaxDistance: 45, MaxBlur: 30},
	} {
		if err := pages.AddPage(p); err != nil {
			t.Fatalf("AddPage() error = %v", err)
		}
	}
	return session.NewManager(pages, logging.Noop())
}

func TestDecodeInbound(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr bool
	}{
		{`{"type":"orientation","orientation":{"alpha":10,"beta":0,"gamma":0}}`, false},
		{`{"type":"motion","motion":{"acceleration":{"x":1,"y":2,"z":3}}}`, false},
		{`{"type":"navigate","pageId":"artwork-1"}`, false},
		{`{"type":"permissions","permissions":{"orientation":false,"motion":true}}`, false},
		{`{"type":"close_menu"}`, false},
		{`{"type":"orientation"}`, true},
		{`{"type":"navigate"}`, true},
		{`{"type":"teleport"}`, true},
		{`not json`, true},
	}
	for _, tc := range cases {
		_, err := DecodeInbound([]byte(tc.raw))
		if (err != nil) != tc.wantErr {
			t.Fatalf("DecodeInbound(%s) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, session.ErrInvalidSample) {
			t.Fatalf("DecodeInbound(%s) error = %v, want ErrInvalidSample", tc.raw, err)
		}
	}
}

func TestLocalBusForwardsUntilCancelled(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan session.Event, 4)
	if err := bus.StartForwarder(ctx, func(ev session.Event) { got <- ev }); err != nil {
		t.Fatalf("StartForwarder() error = %v", err)
	}
	if err := bus.Publish(context.Background(), session.Event{Type: session.EventUnlocked, SessionID: "s1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case ev := <-got:
		if ev.SessionID != "s1" || ev.Type != session.EventUnlocked {
			t.Fatalf("forwarded %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Publish(context.Background(), session.Event{}); err == nil {
		t.Fatal("Publish() after Close returned nil error")
	}
}

func TestRoomBroadcastsToMonitors(t *testing.T) {
	room := NewRoom(logging.Noop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go room.Run(ctx)

	srv := httptest.NewServer(room)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitFor(t, "monitor to join", func() bool { return room.Len() == 1 })

	room.Broadcast(session.Event{Type: session.EventMenuOpened, SessionID: "abc", PageID: "home"})
	out := readOutbound(t, conn)
	if out.Type != MsgEvent || out.Event == nil || out.Event.SessionID != "abc" || out.Event.Type != session.EventMenuOpened {
		t.Fatalf("monitor received %+v", out)
	}

	conn.Close()
	waitFor(t, "monitor to leave", func() bool { return room.Len() == 0 })
}

func TestBroadcastAfterRunExitsDoesNotBlock(t *testing.T) {
	room := NewRoom(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		room.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		room.Broadcast(session.Event{Type: session.EventUnlocked})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked after Run exited")
	}
}

func TestVisitorSocketRoundTrip(t *testing.T) {
	mgr := testManager(t)
	snap, err := mgr.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	h := NewVisitorHandler(mgr, logging.Noop(), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/?session="+snap.ID), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if out := readOutbound(t, conn); out.Type != MsgSession || out.Session == nil || out.Session.ID != snap.ID {
		t.Fatalf("greeting = %+v, want session snapshot", out)
	}

	send := func(v string) Outbound {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(v)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		return readOutbound(t, conn)
	}

	out := send(`{"type":"navigate","pageId":"artwork-1"}`)
	if out.Type != MsgUpdate || out.Update.PageID != "artwork-1" {
		t.Fatalf("navigate reply = %+v", out)
	}
	out = send(`{"type":"orientation","orientation":{"alpha":75}}`)
	if out.Type != MsgUpdate || out.Update.Blur != 1.5 {
		t.Fatalf("orientation reply = %+v, want blur 1.5", out.Update)
	}
	out = send(`{"type":"orientation","orientation":{"alpha":50}}`)
	if !out.Update.Unlocked || len(out.Update.Events) != 1 || out.Update.Events[0].Type != session.EventUnlocked {
		t.Fatalf("unlock reply = %+v", out.Update)
	}
	out = send(`{"type":"navigate","pageId":"missing"}`)
	if out.Type != MsgError || !strings.Contains(out.Error, "page not found") {
		t.Fatalf("bad navigate reply = %+v", out)
	}
	out = send(`{"type":"language","language":"en"}`)
	if out.Type != MsgSession || out.Session.Language != "en" {
		t.Fatalf("language reply = %+v", out)
	}
	out = send(`garbage`)
	if out.Type != MsgError {
		t.Fatalf("garbage reply = %+v, want error", out)
	}
}

func TestVisitorSocketRejectsUnknownSession(t *testing.T) {
	h := NewVisitorHandler(testManager(t), nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/?session=nope"), nil)
	if err == nil {
		t.Fatal("Dial() to unknown session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %+v, want 404", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Dial() without session = %v, %+v, want 400", err, resp)
	}
}

func TestCloseDisconnectsVisitor(t *testing.T) {
	mgr := testManager(t)
	h := NewVisitorHandler(mgr, logging.Noop(), nil)
	mgr.AddSink(h)
	snap, _ := mgr.Create(context.Background(), "")

	srv := httptest.NewServer(h)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/?session="+snap.ID), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	readOutbound(t, conn)
	waitFor(t, "visitor registration", func() bool { return h.Connections(snap.ID) == 1 })

	if err := mgr.Close(context.Background(), snap.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	out := readOutbound(t, conn)
	if out.Type != MsgEvent || out.Event.Type != session.EventSessionClosed {
		t.Fatalf("close notice = %+v", out)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("ReadMessage() after close = %v, want normal closure", err)
	}
	waitFor(t, "visitor unregistration", func() bool { return h.Connections(snap.ID) == 0 })
}
