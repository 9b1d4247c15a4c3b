// Package metrics exposes run counters for the station watcher. One-shot
// runs write them to a node_exporter textfile; watch mode also serves the
// registry at /metrics through the status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/service"
)

// Metrics bundles run metrics on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	EventsTotal      *prometheus.CounterVec
	PostsTotal       *prometheus.CounterVec
	InvalidRecords   prometheus.Counter
	ImageFailures    prometheus.Counter
	StationsFetched  prometheus.Gauge
	LastSuccessEpoch prometheus.Gauge
}

// New constructs and registers metrics.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stationbot_runs_total",
				Help: "Total runs by result",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stationbot_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stationbot_events_detected_total",
				Help: "Station events detected by kind",
			},
			[]string{"kind"},
		),
		PostsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stationbot_posts_total",
				Help: "Post outcomes: succeeded, failed, silent or deferred",
			},
			[]string{"outcome"},
		),
		InvalidRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stationbot_invalid_records_total",
			Help: "Feed records skipped by validation",
		}),
		ImageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stationbot_image_failures_total",
			Help: "Map or street view attachments that could not be produced",
		}),
		StationsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stationbot_stations_fetched",
			Help: "Feed records fetched by the last run",
		}),
		LastSuccessEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stationbot_last_success_timestamp_seconds",
			Help: "Unix time of the last run that completed without error",
		}),
	}
	m.Registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.EventsTotal,
		m.PostsTotal,
		m.InvalidRecords,
		m.ImageFailures,
		m.StationsFetched,
		m.LastSuccessEpoch,
	)
	return m
}

// ObserveRun records the outcome of one run.
func (m *Metrics) ObserveRun(report service.RunReport, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(report.Duration.Seconds())

	m.EventsTotal.WithLabelValues("new_station").Add(float64(report.NewDetected))
	m.EventsTotal.WithLabelValues("electrified").Add(float64(report.ElectrifiedDetected))

	m.PostsTotal.WithLabelValues("succeeded").Add(float64(report.Succeeded))
	m.PostsTotal.WithLabelValues("failed").Add(float64(report.Failed))
	m.PostsTotal.WithLabelValues("silent").Add(float64(report.Silent))
	m.PostsTotal.WithLabelValues("deferred").Add(float64(report.Deferred))

	m.InvalidRecords.Add(float64(report.Invalid))
	m.ImageFailures.Add(float64(report.ImageFailures))
	m.StationsFetched.Set(float64(report.Fetched))

	if err == nil {
		m.LastSuccessEpoch.Set(float64(report.StartedAt.Add(report.Duration).Unix()))
	}
}

// WriteTextfile atomically writes the registry in text exposition format.
// An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
