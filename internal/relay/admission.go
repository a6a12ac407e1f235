package relay

import (
	"time"

	"github.com/luciancaetano/nyxsignal/internal/metrics"
	"github.com/luciancaetano/nyxsignal/internal/protocol"
)

// DropReason says why a frame had no effect. The zero value means the frame
// was admitted and routed.
type DropReason string

const (
	Accepted        DropReason = ""
	DropOversize    DropReason = "oversize"
	DropRateLimited DropReason = "rate_limited"
	DropMalformed   DropReason = "malformed"
	DropInvalidJoin DropReason = "invalid_join"
	DropNoRoom      DropReason = "no_room"
	DropUntracked   DropReason = "untracked"
)

// metricName maps a drop reason to its counter.
func (d DropReason) metricName() string {
	switch d {
	case DropOversize:
		return metrics.DroppedOversize
	case DropRateLimited:
		return metrics.DroppedRateLimited
	case DropMalformed:
		return metrics.DroppedMalformed
	case DropInvalidJoin:
		return metrics.DroppedInvalidJoin
	case DropNoRoom:
		return metrics.DroppedNoRoom
	case DropUntracked:
		return metrics.DroppedUntracked
	}
	return ""
}

// Filter is the per-frame gate applied before routing.
//
// Checks run in this order: size (oversize frames are not counted), the
// connection's fixed-window counter, then the JSON shape. Malformed frames
// still count against the window.
type Filter struct {
	reg      *Registry
	maxBytes int
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewFilter(reg *Registry, cfg Config, now func() time.Time) *Filter {
	cfg = cfg.WithDefaults()
	if now == nil {
		now = time.Now
	}
	return &Filter{
		reg:      reg,
		maxBytes: cfg.MaxMessageBytes,
		limit:    cfg.RateLimitMessages,
		window:   cfg.RateLimitWindow,
		now:      now,
	}
}

// Accept returns the parsed frame and Accepted, or the reason it was dropped.
func (f *Filter) Accept(c Conn, raw []byte) (protocol.Message, DropReason) {
	if len(raw) > f.maxBytes {
		return protocol.Message{}, DropOversize
	}

	s, ok := f.reg.lookup(c.ID())
	if !ok {
		return protocol.Message{}, DropUntracked
	}
	if !s.admit(f.now(), f.limit, f.window) {
		return protocol.Message{}, DropRateLimited
	}

	msg, err := protocol.Parse(raw)
	if err != nil {
		return protocol.Message{}, DropMalformed
	}
	return msg, Accepted
}
