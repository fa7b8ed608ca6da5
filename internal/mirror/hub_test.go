package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) (*EventHub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewEventHub(ctx, testAuthToken, nil, zap.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForClients(t *testing.T, hub *EventHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventHubDeliversPublishedEvents(t *testing.T) {
	hub, srv := newTestHub(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testAuthToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Publish(Event{Type: EventSyncCompleted, GatewayID: "gw_1", Kind: SyncKindCron, Synced: 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != EventSyncCompleted || ev.GatewayID != "gw_1" || ev.Kind != SyncKindCron || ev.Synced != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected publish to stamp the event")
	}
}

func TestEventHubTokenQueryParam(t *testing.T) {
	hub, srv := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+testAuthToken, nil)
	if err != nil {
		t.Fatalf("dial with query token failed: %v", err)
	}
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestEventHubRejectsUnauthorized(t *testing.T) {
	_, srv := newTestHub(t)

	for _, target := range []string{wsURL(srv), wsURL(srv) + "?token=wrong"} {
		_, resp, err := websocket.DefaultDialer.Dial(target, nil)
		if err == nil {
			t.Fatalf("%s: expected dial to fail", target)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %v", target, resp)
		}
	}
}

func TestEventHubCheckOrigin(t *testing.T) {
	hub := NewEventHub(context.Background(), testAuthToken, []string{"https://dash.example.com"}, zap.NewNop())

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://dash.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := hub.checkOrigin(r); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}

func TestNilEventHubPublishIsNoop(t *testing.T) {
	var hub *EventHub
	hub.Publish(Event{Type: EventSyncFailed})
}
