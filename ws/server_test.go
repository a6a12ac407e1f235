package ws_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/nyxsignal"
	"github.com/luciancaetano/nyxsignal/ws"
)

func startRelay(t *testing.T, limits ws.Limits) nyxsignal.Relay {
	t.Helper()

	relay := ws.New(ws.NewConfig("127.0.0.1:0", limits, ws.AllOrigins(), nil, nil))
	require.NoError(t, relay.Start(context.Background()))

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = relay.Stop(stopCtx)
	})
	return relay
}

func connect(t *testing.T, relay nyxsignal.Relay) *websocket.Conn {
	t.Helper()

	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws://"+relay.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func recv(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

// expectSilence asserts that nothing arrives on conn for a short while. A
// read timeout leaves a gorilla connection unusable, so it must be the last
// read on conn.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", data)
}

func join(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	send(t, conn, `{"type":"JOIN","room":"`+room+`"}`)
	require.Equal(t, `{"type":"JOINED","room":"`+room+`"}`, recv(t, conn))
}

func TestOfferReachesPeerOnly(t *testing.T) {
	t.Parallel()

	relay := startRelay(t, ws.DefaultLimits())
	a, b := connect(t, relay), connect(t, relay)

	join(t, a, "r1")
	join(t, b, "r1")
	require.Equal(t, `{"type":"PEER_JOINED","room":"r1"}`, recv(t, a))

	send(t, a, `{"type":"OFFER","sdp":"x"}`)

	assert.Equal(t, `{"type":"OFFER","sdp":"x"}`, recv(t, b))
	expectSilence(t, a)
}

func TestLateJoinerNotifiesExistingMember(t *testing.T) {
	t.Parallel()

	relay := startRelay(t, ws.DefaultLimits())
	a, b := connect(t, relay), connect(t, relay)

	// the first frame a sees after its JOINED is the notice about b
	join(t, a, "r1")

	send(t, b, `{"type":"JOIN","room":"r1"}`)
	assert.Equal(t, `{"type":"JOINED","room":"r1"}`, recv(t, b))
	assert.Equal(t, `{"type":"PEER_JOINED","room":"r1"}`, recv(t, a))
	expectSilence(t, b)
	expectSilence(t, a)
}

func TestEmptyRoomJoinIsIgnored(t *testing.T) {
	t.Parallel()

	relay := startRelay(t, ws.DefaultLimits())
	a := connect(t, relay)

	// frames are handled in order, so the JOINED for r1 being the first
	// reply means the empty JOIN produced none
	send(t, a, `{"type":"JOIN","room":""}`)
	join(t, a, "r1")

	st := relay.Stats()
	assert.Equal(t, 1, st.Rooms)
	assert.Equal(t, 1, st.Members)
	assert.Equal(t, 1, st.Connections)
	expectSilence(t, a)
}

func TestMessageBeforeJoinHasNoEffect(t *testing.T) {
	t.Parallel()

	relay := startRelay(t, ws.DefaultLimits())
	a, b := connect(t, relay), connect(t, relay)
	join(t, b, "r1")

	send(t, a, `{"type":"OFFER","room":"r1","sdp":"x"}`)
	send(t, a, `not even json`)

	expectSilence(t, b)
	expectSilence(t, a)
}

func TestRoomsAreIsolated(t *testing.T) {
	t.Parallel()

	relay := startRelay(t, ws.DefaultLimits())
	a, b, c := connect(t, relay), connect(t, relay), connect(t, relay)
	join(t, a, "r1")
	join(t, b, "r1")
	require.Equal(t, `{"type":"PEER_JOINED","room":"r1"}`, recv(t, a))
	join(t, c, "r2")

	send(t, c, `{"type":"ICE","candidate":"c"}`)

	expectSilence(t, a)
	expectSilence(t, b)
}

func TestRateLimitOverRealSocket(t *testing.T) {
	t.Parallel()

	limits := ws.DefaultLimits()
	limits.RateLimitMessages = 5
	limits.RateLimitWindow = 2 * time.Second
	relay := startRelay(t, limits)
	a, b := connect(t, relay), connect(t, relay)
	join(t, a, "r1")
	join(t, b, "r1")
	require.Equal(t, `{"type":"PEER_JOINED","room":"r1"}`, recv(t, a))

	// the JOIN used one slot of a's window
	for i := 0; i < 10; i++ {
		send(t, a, `{"type":"ICE"}`)
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, `{"type":"ICE"}`, recv(t, b))
	}

	// the six dropped frames never arrive: the next frame b sees is the one
	// sent in the following window
	time.Sleep(limits.RateLimitWindow)
	send(t, a, `{"type":"ANSWER"}`)
	assert.Equal(t, `{"type":"ANSWER"}`, recv(t, b))
	expectSilence(t, b)
}

func TestAllowOrigins(t *testing.T) {
	t.Parallel()

	check := ws.AllowOrigins("https://app.example/", "HTTPS://Other.Example")

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "https://app.example", want: true},
		{origin: "https://other.example", want: true},
		{origin: "https://evil.example", want: false},
	}
	for _, tt := range tests {
		r, _ := http.NewRequest(http.MethodGet, "http://relay/", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, check(r), "origin %q", tt.origin)
	}

	r, _ := http.NewRequest(http.MethodGet, "http://relay/", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, ws.AllowOrigins()(r))
}
