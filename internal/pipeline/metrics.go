package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the pipeline's Prometheus counters, registered on a dedicated
// registry so the /metrics endpoint exposes only this process's series.
type Metrics struct {
	registry *prometheus.Registry

	Cycles          prometheus.Counter
	PollFailures    prometheus.Counter
	Admitted        prometheus.Counter
	Blocked         prometheus.Counter
	Stored          prometheus.Counter
	RecordFailures  prometheus.Counter
	AudioNormalized prometheus.Counter
	AudioFailures   prometheus.Counter
	Expired         prometheus.Counter
}

// NewMetrics creates and registers the pipeline counters.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_poll_cycles_total",
			Help: "Completed poll cycles.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_poll_failures_total",
			Help: "Poll cycles that failed to fetch the upstream batch.",
		}),
		Admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_alerts_admitted_total",
			Help: "Alerts admitted by the filter engine.",
		}),
		Blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_alerts_blocked_total",
			Help: "Alerts blocked by the filter engine.",
		}),
		Stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_alerts_stored_total",
			Help: "Alert bundles written or rewritten.",
		}),
		RecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_record_failures_total",
			Help: "Records that failed processing and were skipped.",
		}),
		AudioNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_audio_normalized_total",
			Help: "Alert audio files fetched and normalized.",
		}),
		AudioFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_audio_failures_total",
			Help: "Audio fetch or normalization failures (alert stored without audio).",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boiler_alerts_expired_total",
			Help: "Expired alerts retired from the feed.",
		}),
	}

	m.registry.MustRegister(
		m.Cycles,
		m.PollFailures,
		m.Admitted,
		m.Blocked,
		m.Stored,
		m.RecordFailures,
		m.AudioNormalized,
		m.AudioFailures,
		m.Expired,
	)
	return m
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
