package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// GaugeFunc reports the current room and connection counts.
type GaugeFunc func() (rooms, connections int)

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All counters are exported as a single metric with an `event` label. When
// gauges is non-nil the room and connection counts are exported too.
func PrometheusHandler(m *Metrics, gauges GaugeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP nyxsignal_events_total Relay event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE nyxsignal_events_total counter")
		escaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "nyxsignal_events_total{event=\"%s\"} %d\n", escaper.Replace(k), snap[k])
		}

		if gauges == nil {
			return
		}
		rooms, conns := gauges()
		_, _ = fmt.Fprintln(w, "# HELP nyxsignal_rooms Rooms with at least one member.")
		_, _ = fmt.Fprintln(w, "# TYPE nyxsignal_rooms gauge")
		_, _ = fmt.Fprintf(w, "nyxsignal_rooms %d\n", rooms)
		_, _ = fmt.Fprintln(w, "# HELP nyxsignal_connections Tracked WebSocket connections.")
		_, _ = fmt.Fprintln(w, "# TYPE nyxsignal_connections gauge")
		_, _ = fmt.Fprintf(w, "nyxsignal_connections %d\n", conns)
	})
}
