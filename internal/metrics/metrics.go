// Package metrics exports scan activity to Prometheus. Collector subscribes
// to engine events, so scoring code never touches a metric directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

const namespace = "elara"

type Collector struct {
	registry *prometheus.Registry

	scans            *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
	scanScore        *prometheus.HistogramVec
	shortCircuits    prometheus.Counter
	batchTimeouts    prometheus.Counter
	analyzerDuration *prometheus.HistogramVec
	analyzerFailures *prometheus.CounterVec
	feedIndicators   prometheus.Gauge
	feedRefreshes    *prometheus.CounterVec
	alerts           *prometheus.CounterVec
}

// New registers every metric on a private registry. Pass the result to
// engine construction with scanner.WithObserver.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by artifact kind and risk level.",
		}, []string{"kind", "risk_level"}),
		scanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"kind"}),
		scanScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_score",
			Help:      "Total score of completed scans.",
			Buckets:   []float64{0, 10, 15, 30, 50, 80, 120, 200, 300},
		}, []string{"kind"}),
		shortCircuits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_short_circuits_total",
			Help:      "Scans answered by the known-threat gate alone.",
		}),
		batchTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_timeouts_total",
			Help:      "Scans whose analyzer batch hit the global deadline.",
		}),
		analyzerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "duration_seconds",
			Help:      "Analyzer latency by category.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"category"}),
		analyzerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "failures_total",
			Help:      "Analyzers that contributed nothing, by reason.",
		}, []string{"category", "reason"}),
		feedIndicators: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "threat_intel",
			Name:      "indicators",
			Help:      "Indicators currently loaded into the gate index.",
		}),
		feedRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threat_intel",
			Name:      "source_refreshes_total",
			Help:      "Feed source refresh attempts by outcome.",
		}, []string{"source", "status"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts delivered by channel and outcome.",
		}, []string{"channel", "status"}),
	}
}

// OnEvent implements scanner.Observer. It only increments in-memory
// counters and never blocks.
func (c *Collector) OnEvent(e scanner.Event) {
	switch e.Type {
	case scanner.EventAnalyzerDone:
		c.analyzerDuration.WithLabelValues(e.Category).Observe(e.Elapsed.Seconds())
	case scanner.EventAnalyzerFailed:
		c.analyzerFailures.WithLabelValues(e.Category, string(e.Reason)).Inc()
		if e.Elapsed > 0 {
			c.analyzerDuration.WithLabelValues(e.Category).Observe(e.Elapsed.Seconds())
		}
	case scanner.EventPhase:
		switch e.Phase {
		case scanner.PhaseShortCircuit:
			c.shortCircuits.Inc()
		case scanner.PhaseTimedOut:
			c.batchTimeouts.Inc()
		}
	case scanner.EventScanDone:
		kind := string(e.Kind)
		c.scans.WithLabelValues(kind, string(e.Level)).Inc()
		c.scanDuration.WithLabelValues(kind).Observe(e.Elapsed.Seconds())
		c.scanScore.WithLabelValues(kind).Observe(float64(e.Score))
	}
}

func (c *Collector) SetIndicators(n int) {
	c.feedIndicators.Set(float64(n))
}

func (c *Collector) FeedRefreshed(source string, ok bool) {
	c.feedRefreshes.WithLabelValues(source, outcome(ok)).Inc()
}

func (c *Collector) AlertSent(channel string, ok bool) {
	c.alerts.WithLabelValues(channel, outcome(ok)).Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
