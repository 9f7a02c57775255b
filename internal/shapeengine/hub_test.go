package shapeengine

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shapefinder/internal/model"
)

type wsEnvelope struct {
	Channel string           `json:"channel"`
	Data    model.ShapeEvent `json:"data"`
	TS      string           `json:"ts"`
	Seq     int64            `json:"seq"`
}

func dial(t *testing.T, h *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	before := h.ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, "client registration", func() bool { return h.ClientCount() > before })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("envelope %s: %v", msg, err)
	}
	return env
}

func event(token string, tf int, typ model.EventType) model.ShapeEvent {
	return model.ShapeEvent{Type: typ, Exchange: "NSE", Token: token, TF: tf, TS: t0, Direction: "UP", Price: 101}
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	ev := event("2885", 60, model.EventBreakout)
	var env wsEnvelope
	if err := json.Unmarshal(buildEnvelope(ev.PubSubChannel(), ev.JSON(), now, 42), &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if env.Channel != "pub:shape:60s:NSE:2885" || env.Seq != 42 || env.Data.Direction != "UP" {
		t.Errorf("envelope = %+v", env)
	}
	if ts, err := time.Parse(time.RFC3339Nano, env.TS); err != nil || !ts.Equal(now) {
		t.Errorf("ts = %q, %v", env.TS, err)
	}
}

func TestHub_FiltersByQuery(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dial(t, h, "?tfs=300&tokens=NSE:2885")

	h.Broadcast(event("2885", 60, model.EventBreakout))
	h.Broadcast(event("1594", 300, model.EventBreakout))
	h.Broadcast(event("2885", 300, model.EventKeyPoint))

	env := readEnvelope(t, conn)
	if env.Data.TF != 300 || env.Data.Token != "2885" || env.Data.Type != model.EventKeyPoint {
		t.Errorf("got %+v", env.Data)
	}
	if env.Seq != 3 {
		t.Errorf("seq = %d, want 3", env.Seq)
	}
}

func TestHub_SendsLatestOnConnect(t *testing.T) {
	h := NewHub()
	defer h.Close()
	first := event("2885", 60, model.EventBreakout)
	h.Broadcast(first)
	second := first
	second.Direction = "DOWN"
	h.Broadcast(second)

	conn := dial(t, h, "")
	env := readEnvelope(t, conn)
	if env.Data.Direction != "DOWN" || env.Channel != first.PubSubChannel() {
		t.Errorf("initial state = %+v", env)
	}
}

func TestHub_PingAndDisconnect(t *testing.T) {
	h := NewHub()
	var counts []int
	countCh := make(chan int, 4)
	h.OnCount = func(n int) { countCh <- n }
	conn := dial(t, h, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":123}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var pong struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if json.Unmarshal(msg, &pong) != nil || pong.Type != "pong" || pong.Ping != 123 {
		t.Errorf("pong = %s", msg)
	}

	conn.Close()
	waitFor(t, "client removal", func() bool { return h.ClientCount() == 0 })
	for len(counts) < 2 {
		select {
		case n := <-countCh:
			counts = append(counts, n)
		case <-time.After(2 * time.Second):
			t.Fatalf("OnCount calls = %v", counts)
		}
	}
	if counts[0] != 1 || counts[1] != 0 {
		t.Errorf("OnCount calls = %v, want [1 0]", counts)
	}
}

func TestEventFilter(t *testing.T) {
	f := parseFilter("60, 300", "NSE:1, NSE:2")
	if !f.match(&model.ShapeEvent{Exchange: "NSE", Token: "2", TF: 300}) {
		t.Error("matching event rejected")
	}
	if f.match(&model.ShapeEvent{Exchange: "NSE", Token: "3", TF: 60}) {
		t.Error("other token accepted")
	}
	if f.match(&model.ShapeEvent{Exchange: "NSE", Token: "1", TF: 900}) {
		t.Error("other TF accepted")
	}
	if !parseFilter("", "").match(&model.ShapeEvent{TF: 1}) {
		t.Error("empty filter rejected an event")
	}
}
