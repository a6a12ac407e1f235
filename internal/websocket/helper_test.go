package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newDialer returns a WebSocket dialer with a short handshake timeout
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// newTestServer serves s over httptest and runs its supervisor until the
// test ends.
func newTestServer(t *testing.T, cfg *ServerConfig) (*Server, *httptest.Server) {
	t.Helper()

	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	s.RunSupervisor(ctx)

	t.Cleanup(func() {
		cancel()
		s.clients.Range(func(_, v any) bool {
			_ = v.(*Client).Terminate()
			return true
		})
		ts.Close()
	})
	return s, ts
}

func allowAll(*http.Request) bool { return true }

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := newDialer().Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	return string(data)
}

func writeText(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// upgradePair returns a server-side Client wrapping an upgraded connection
// and the dialing side of the same connection.
func upgradePair(t *testing.T, queueSize int) (*Client, *websocket.Conn) {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: allowAll}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(ts.Close)

	peer := dial(t, wsURL(ts.URL))

	select {
	case conn := <-conns:
		client := NewClient(conn, conn.RemoteAddr().String(), queueSize, time.Second)
		t.Cleanup(func() { _ = client.Terminate() })
		return client, peer
	case <-time.After(5 * time.Second):
		t.Fatal("server side of the connection never arrived")
		return nil, nil
	}
}
