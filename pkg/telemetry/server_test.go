package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tacton/pkg/click"
	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/haptic"
	"github.com/teslashibe/go-tacton/pkg/mode"
	"github.com/teslashibe/go-tacton/pkg/scheduler"
	"github.com/teslashibe/go-tacton/pkg/tacton"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := haptic.NewBus(haptic.NewRecorder(nil), nil)
	sched := scheduler.New(nil, nil)
	src := Sources{
		Mode:       mode.NewState(mode.Proximity, nil, nil),
		Scheduler:  sched,
		Dispatcher: tacton.NewDispatcher(tacton.DefaultTable(), bus, time.Millisecond, nil, nil),
		Click:      click.New(click.DefaultConfig(), bus, sched, nil, nil),
		Bus:        bus,
	}
	return NewServer(Config{History: 4, StatusInterval: 10 * time.Millisecond}, src, nil)
}

func get(t *testing.T, s *Server, path string) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest("GET", path, nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/api/status")
	if code != 200 {
		t.Fatalf("Status = %d, want 200", code)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if st.Mode != "proximity" {
		t.Errorf("mode = %q", st.Mode)
	}
	if st.Tacton == nil || st.Click == nil || st.Bus == nil || st.Scheduler == nil {
		t.Errorf("missing sections: %s", body)
	}
	if st.Distance != nil || st.Sighting != nil {
		t.Errorf("absent sources reported: %s", body)
	}
}

func TestTable(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/api/table")
	if code != 200 {
		t.Fatalf("Status = %d, want 200", code)
	}
	var rows []struct {
		Label    string `json:"label"`
		Priority int    `json:"priority"`
		Channel  string `json:"channel"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if len(rows) != 5 || rows[0].Label != "car" || rows[0].Channel != "center" || rows[4].Priority != 3 {
		t.Errorf("table = %+v", rows)
	}
}

func TestEvents_FilterAndLimit(t *testing.T) {
	s := newTestServer(t)
	s.Emit(events.New(events.ModeChanged, "mode", "detection"))
	s.Emit(events.New(events.TactonStarted, "label", "car"))
	s.Emit(events.New(events.TactonFinished, "label", "car"))
	s.Emit(events.New(events.ClickStarted))
	s.Emit(events.New(events.ClickFinished))

	tests := []struct {
		query string
		want  []events.Kind
	}{
		{"", []events.Kind{events.TactonStarted, events.TactonFinished, events.ClickStarted, events.ClickFinished}},
		{"?kind=tacton", []events.Kind{events.TactonStarted, events.TactonFinished}},
		{"?kind=click.finished", []events.Kind{events.ClickFinished}},
		{"?limit=1", []events.Kind{events.ClickFinished}},
		{"?kind=mode", []events.Kind{}},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			code, body := get(t, s, "/api/events"+tc.query)
			if code != 200 {
				t.Fatalf("Status = %d, want 200", code)
			}
			var got []events.Event
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d events, want %d: %s", len(got), len(tc.want), body)
			}
			for i := range got {
				if got[i].Kind != tc.want[i] {
					t.Errorf("event %d = %s, want %s", i, got[i].Kind, tc.want[i])
				}
			}
		})
	}

	if code, _ := get(t, s, "/api/events?limit=-1"); code != 400 {
		t.Errorf("negative limit status = %d, want 400", code)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/metrics")
	if code != 200 || !strings.Contains(string(body), "tacton_dispatched_total 0") {
		t.Errorf("metrics = %d\n%s", code, body)
	}
	code, body = get(t, s, "/health")
	if code != 200 || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("health = %d %s", code, body)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	if code, _ := get(t, s, "/ws/events"); code != 426 {
		t.Errorf("Status = %d, want 426", code)
	}
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	s.Emit(events.New(events.ModeChanged, "mode", "detection"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-served
	}()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	var e events.Event
	if err := ws.ReadJSON(&e); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if e.Kind != events.ModeChanged {
		t.Errorf("history event = %s", e.Kind)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.eventHub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Emit(events.New(events.TactonStarted, "label", "dog"))
	if err := ws.ReadJSON(&e); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if e.Kind != events.TactonStarted || e.Fields["label"] != "dog" {
		t.Errorf("live event = %+v", e)
	}
}

func TestStatusStream(t *testing.T) {
	s := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-served
	}()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/status", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	// The greeting and at least one periodic push.
	for i := 0; i < 2; i++ {
		var st Status
		if err := ws.ReadJSON(&st); err != nil {
			t.Fatalf("read status %d: %v", i, err)
		}
		if st.Mode != "proximity" {
			t.Errorf("status %d mode = %q", i, st.Mode)
		}
	}
}
