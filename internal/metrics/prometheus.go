package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// namedCounters lists every fixed (non-tag-suffixed) counter this package
// defines, in the order they're rendered, alongside the HELP text a scraper
// should show for it. Keeping this table next to the exported constants
// means a new counter in this file and a new export line can't drift apart.
var namedCounters = []struct {
	name string
	help string
}{
	{ConnectionsAccepted, "WebSocket connections accepted by the hub."},
	{ConnectionsClosed, "WebSocket connections that have closed."},
	{FramesMalformed, "Inbound frames discarded for failing to parse or validate."},
	{RelayAuthSuccess, "Relay pairing authentication attempts that succeeded."},
	{RelayAuthFailure, "Relay pairing authentication attempts that failed."},
	{RelayPairsCreated, "Relay pairs established between two connections."},
	{RelayPairsRemoved, "Relay pairs torn down."},
	{RelayDataForwarded, "Opaque relay payloads forwarded between paired connections."},
}

// PrometheusHandler exposes a Metrics registry in Prometheus' text
// exposition format. Each fixed counter in namedCounters gets its own
// `signalhub_<name>_total` series; registry names carrying the
// IncDispatched prefix are folded into a single
// `signalhub_frames_dispatched_total{tag="..."}` series, and any other name
// is not exported. Tags are a label because Prometheus
// models cardinality-by-label rather than cardinality-by-metric-name.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writePrometheusText(w, snap)
	})
}

func writePrometheusText(w io.Writer, snap map[string]uint64) {
	for _, c := range namedCounters {
		fullName := "signalhub_" + c.name + "_total"
		fmt.Fprintf(w, "# HELP %s %s\n", fullName, c.help)
		fmt.Fprintln(w, "# TYPE "+fullName+" counter")
		fmt.Fprintf(w, "%s %d\n", fullName, snap[c.name])
	}

	tags := make([]string, 0)
	for k := range snap {
		if tag, ok := strings.CutPrefix(k, dispatchedPrefix); ok {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)

	fmt.Fprintln(w, "# HELP signalhub_frames_dispatched_total Signaling frames dispatched by wire tag.")
	fmt.Fprintln(w, "# TYPE signalhub_frames_dispatched_total counter")
	for _, tag := range tags {
		fmt.Fprintf(w, "signalhub_frames_dispatched_total{tag=%q} %d\n", tag, snap[dispatchedPrefix+tag])
	}
}
