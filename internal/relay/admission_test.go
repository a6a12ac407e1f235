package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T, cfg Config) (*Filter, *Registry, *fakeClock, *mockConn) {
	t.Helper()
	clock := newFakeClock()
	r, _ := newTestRegistry()
	r.now = clock.Now
	c := newMockConn("a")
	require.True(t, r.Track(c))
	return NewFilter(r, cfg, clock.Now), r, clock, c
}

func TestFilter_Size(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxMessageBytes: 64}
	pad := func(n int) []byte {
		// {"type":"X","p":"..."} padded to exactly n bytes
		base := `{"type":"X","p":""}`
		return []byte(`{"type":"X","p":"` + strings.Repeat("a", n-len(base)) + `"}`)
	}

	tests := []struct {
		name string
		raw  []byte
		want DropReason
	}{
		{name: "at limit", raw: pad(64), want: Accepted},
		{name: "one over", raw: pad(65), want: DropOversize},
		{name: "far over", raw: pad(1024), want: DropOversize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, _, _, c := newTestFilter(t, cfg)
			_, got := f.Accept(c, tt.raw)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_OversizeDoesNotCountAgainstWindow(t *testing.T) {
	t.Parallel()

	f, _, _, c := newTestFilter(t, Config{MaxMessageBytes: 16, RateLimitMessages: 2})
	big := []byte(`{"type":"OFFER","sdp":"much too long"}`)
	for i := 0; i < 10; i++ {
		_, got := f.Accept(c, big)
		require.Equal(t, DropOversize, got)
	}

	_, got := f.Accept(c, []byte(`{"type":"A"}`))
	assert.Equal(t, Accepted, got)
	_, got = f.Accept(c, []byte(`{"type":"A"}`))
	assert.Equal(t, Accepted, got)
	_, got = f.Accept(c, []byte(`{"type":"A"}`))
	assert.Equal(t, DropRateLimited, got)
}

func TestFilter_RateLimitWindow(t *testing.T) {
	t.Parallel()

	f, _, clock, c := newTestFilter(t, DefaultConfig())
	frame := []byte(`{"type":"ICE"}`)

	for i := 0; i < 200; i++ {
		_, got := f.Accept(c, frame)
		require.Equal(t, Accepted, got, "frame %d", i+1)
	}
	_, got := f.Accept(c, frame)
	assert.Equal(t, DropRateLimited, got, "frame 201 exceeds the window")

	clock.Advance(4999 * time.Millisecond)
	_, got = f.Accept(c, frame)
	assert.Equal(t, DropRateLimited, got, "still inside the first window")

	clock.Advance(time.Millisecond)
	_, got = f.Accept(c, frame)
	assert.Equal(t, Accepted, got, "window rolled over")
}

func TestFilter_WindowIsAlignedToAcceptTime(t *testing.T) {
	t.Parallel()

	f, _, clock, c := newTestFilter(t, Config{RateLimitMessages: 1, RateLimitWindow: 5 * time.Second})
	frame := []byte(`{"type":"ICE"}`)

	// idle for a few windows, then send late in a window
	clock.Advance(12 * time.Second)
	_, got := f.Accept(c, frame)
	require.Equal(t, Accepted, got)
	_, got = f.Accept(c, frame)
	require.Equal(t, DropRateLimited, got)

	// the window containing t=12s ends at t=15s, not t=17s
	clock.Advance(3 * time.Second)
	_, got = f.Accept(c, frame)
	assert.Equal(t, Accepted, got)
}

func TestFilter_MalformedCountsAgainstWindow(t *testing.T) {
	t.Parallel()

	f, _, _, c := newTestFilter(t, Config{RateLimitMessages: 3})

	for _, raw := range []string{`not json`, `[1,2]`, `"str"`} {
		_, got := f.Accept(c, []byte(raw))
		require.Equal(t, DropMalformed, got, raw)
	}
	_, got := f.Accept(c, []byte(`{"type":"ICE"}`))
	assert.Equal(t, DropRateLimited, got)
}

func TestFilter_Shapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		want     DropReason
		wantType string
	}{
		{name: "object", raw: `{"type":"OFFER","sdp":"v=0"}`, want: Accepted, wantType: "OFFER"},
		{name: "object without type", raw: `{"foo":1}`, want: Accepted},
		{name: "empty object", raw: `{}`, want: Accepted},
		{name: "garbage", raw: `{{{`, want: DropMalformed},
		{name: "array", raw: `[]`, want: DropMalformed},
		{name: "null", raw: `null`, want: DropMalformed},
		{name: "number", raw: `42`, want: DropMalformed},
		{name: "empty", raw: ``, want: DropMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, _, _, c := newTestFilter(t, DefaultConfig())
			msg, got := f.Accept(c, []byte(tt.raw))
			assert.Equal(t, tt.want, got)
			if tt.want == Accepted {
				assert.Equal(t, tt.wantType, msg.Type)
			}
		})
	}
}

func TestFilter_UntrackedConnection(t *testing.T) {
	t.Parallel()

	f, _, _, _ := newTestFilter(t, DefaultConfig())
	_, got := f.Accept(newMockConn("stranger"), []byte(`{"type":"ICE"}`))
	assert.Equal(t, DropUntracked, got)
}

func TestFilter_WindowsArePerConnection(t *testing.T) {
	t.Parallel()

	f, r, _, a := newTestFilter(t, Config{RateLimitMessages: 1})
	b := newMockConn("b")
	require.True(t, r.Track(b))
	frame := []byte(`{"type":"ICE"}`)

	_, got := f.Accept(a, frame)
	require.Equal(t, Accepted, got)
	_, got = f.Accept(a, frame)
	require.Equal(t, DropRateLimited, got)

	_, got = f.Accept(b, frame)
	assert.Equal(t, Accepted, got)
}
