package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// GaugeFunc reports a live value at scrape time
type GaugeFunc func() float64

// PrometheusExporter renders the counters in the Prometheus text format
type PrometheusExporter struct {
	counters *Counters
	gauges   []gauge
}

type gauge struct {
	name string
	help string
	fn   GaugeFunc
}

func NewPrometheusExporter(counters *Counters) *PrometheusExporter {
	return &PrometheusExporter{counters: counters}
}

// AddGauge registers a gauge sampled on every export
func (e *PrometheusExporter) AddGauge(name, help string, fn GaugeFunc) {
	e.gauges = append(e.gauges, gauge{name: name, help: help, fn: fn})
}

func (e *PrometheusExporter) Export() string {
	s := e.counters.Snapshot()
	var b strings.Builder

	writeLabelled(&b, "typerace_connections_opened_total", "Connections opened per namespace", "namespace", s.ConnectionsOpened)
	writeLabelled(&b, "typerace_connections_closed_total", "Connections closed per namespace", "namespace", s.ConnectionsClosed)
	writeLabelled(&b, "typerace_events_received_total", "Inbound events per event name", "event", s.EventsReceived)
	writeLabelled(&b, "typerace_events_rejected_total", "Inbound events dropped by the rate limiter", "event", s.EventsRejected)

	writeCounter(&b, "typerace_rooms_created_total", "Rooms created", float64(s.RoomsCreated))
	writeCounter(&b, "typerace_rounds_started_total", "Countdowns started", float64(s.RoundsStarted))
	writeCounter(&b, "typerace_rounds_finished_total", "Rounds won", float64(s.RoundsFinished))
	writeCounter(&b, "typerace_rounds_cancelled_total", "Countdowns or races cancelled because the room emptied", float64(s.RoundsCancelled))
	writeCounter(&b, "typerace_round_duration_seconds_total", "Sum of race durations", s.RoundDurationTotal.Seconds())

	for _, g := range e.gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n\n", g.name, g.help, g.name, g.name, g.fn())
	}

	return b.String()
}

func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := io.WriteString(w, e.Export()); err != nil {
		log.Debug().Err(err).Msg("failed to write metrics response")
	}
}

func writeCounter(b *strings.Builder, name, help string, v float64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n%s %g\n\n", name, help, name, name, v)
}

func writeLabelled(b *strings.Builder, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, escapeLabel(k), values[k])
	}
	b.WriteString("\n")
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// escapeLabel applies the text format's label value escaping
func escapeLabel(v string) string {
	return labelEscaper.Replace(strings.ToValidUTF8(v, "\uFFFD"))
}
