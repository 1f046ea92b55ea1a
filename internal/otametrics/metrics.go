// Package otametrics wires prometheus client_golang the way the
// teacher's pkg/metrics does: package-level collectors, a registration
// init(), and a promhttp.Handler for scraping.
package otametrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsTotal counts completed update sessions by outcome
	// ("success", "failure", "no_update").
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ota_sessions_total",
			Help: "Total number of update sessions by outcome",
		},
		[]string{"result"},
	)

	// RetriesTotal counts connect/download retries by phase.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ota_retries_total",
			Help: "Total number of retries by phase",
		},
		[]string{"phase"},
	)

	// BytesWritten is the running byte count staged in the current session.
	BytesWritten = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ota_bytes_written",
			Help: "Bytes written to the staging slot in the current session",
		},
	)

	// SessionDuration observes how long a full session takes, from
	// AGENT_WAITING leaving to OTA_COMPLETE.
	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ota_session_duration_seconds",
			Help:    "Duration of an update session in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StateTransitionsTotal counts orchestrator state transitions by
	// destination state, useful for spotting stuck loops in dashboards.
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ota_state_transitions_total",
			Help: "Total number of orchestrator state transitions by destination state",
		},
		[]string{"state"},
	)

	// PacketsDuplicate counts pub/sub chunks dropped as duplicates.
	PacketsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ota_chunk_duplicates_total",
			Help: "Total number of duplicate pub/sub chunks dropped",
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(BytesWritten)
	prometheus.MustRegister(SessionDuration)
	prometheus.MustRegister(StateTransitionsTotal)
	prometheus.MustRegister(PacketsDuplicate)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time without recording it.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
