package integration

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bldg-7/clawdash/internal/clawctl"
	"github.com/Bldg-7/clawdash/internal/config"
	"github.com/Bldg-7/clawdash/internal/mirror"
	"github.com/Bldg-7/clawdash/internal/storage"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const harnessToken = "integration-token"

// gatewayStub plays a remote agent gateway. Handlers can be swapped or the
// whole stub taken down to simulate an outage.
type gatewayStub struct {
	token string
	srv   *httptest.Server

	mu     sync.Mutex
	bodies map[string]string
	down   bool
}

func newGatewayStub(t *testing.T, token string) *gatewayStub {
	t.Helper()
	g := &gatewayStub{token: token, bodies: map[string]string{}}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gatewayStub) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	body, ok := g.bodies[r.Method+" "+r.URL.Path]
	down := g.down
	g.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+g.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (g *gatewayStub) handle(method, path, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bodies[method+" "+path] = body
}

func (g *gatewayStub) setDown(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down = down
}

// harness runs a complete clawdash server on a random port.
type harness struct {
	t      *testing.T
	server *mirror.Server
	client *clawctl.HTTPClient
	base   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.AuthToken = harnessToken
	cfg.Database.Path = filepath.Join(t.TempDir(), "clawdash.db")
	cfg.Remote.RequestTimeoutSec = 2
	cfg.Remote.MaxBodyBytes = 1 << 20
	cfg.Sync.HistoryLimit = 50
	cfg.Registry.CacheSize = 16

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv, err := mirror.NewServer(cfg, db, zap.NewNop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	_, port, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("parse addr %q: %v", srv.Addr(), err)
	}
	base := "http://127.0.0.1:" + port
	return &harness{
		t:      t,
		server: srv,
		client: clawctl.NewHTTPClient(base, harnessToken),
		base:   base,
	}
}

func (h *harness) dialEvents(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.base, "http") + "/ws/events?token=" + harnessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.server.EventClients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

// waitForEvent reads events until one matches or the timeout elapses.
func waitForEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(mirror.Event) bool) mirror.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for event: %v", err)
		}
		var ev mirror.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event %s: %v", data, err)
		}
		if match(ev) {
			return ev
		}
	}
}
