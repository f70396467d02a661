// Package metrics exposes Prometheus instrumentation for the pipeline.
// All Collector methods are safe to call on a nil receiver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records pipeline metrics into its own registry.
type Collector struct {
	registry *prometheus.Registry

	framesReceived   *prometheus.CounterVec
	framesDropped    prometheus.Counter
	recognizerErrors prometheus.Counter
	utterances       prometheus.Counter
	turnTransitions  *prometheus.CounterVec
	turnsTotal       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	chunksPublished  prometheus.Counter
	activeSessions   prometheus.Gauge
}

// NewCollector registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound audio frames by kind (audio or marker).",
		}, []string{"kind"}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped because the session queue stayed full.",
		}),
		recognizerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_errors_total",
			Help:      "Failures forwarding audio to or reading from the recognizer.",
		}),
		utterances: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Completed utterances handed to the pipeline.",
		}),
		turnTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn state transitions by target state.",
		}, []string{"state"}),
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by outcome.",
		}, []string{"outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		chunksPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_published_total",
			Help:      "Outbound chunks published, sentinels included.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently open.",
		}),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) FrameReceived(marker bool) {
	if c == nil {
		return
	}
	kind := "audio"
	if marker {
		kind = "marker"
	}
	c.framesReceived.WithLabelValues(kind).Inc()
}

func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Inc()
}

func (c *Collector) RecognizerError() {
	if c == nil {
		return
	}
	c.recognizerErrors.Inc()
}

func (c *Collector) UtteranceDispatched() {
	if c == nil {
		return
	}
	c.utterances.Inc()
}

func (c *Collector) TurnTransition(state string) {
	if c == nil {
		return
	}
	c.turnTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) TurnFinished(outcome string) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) ChunkPublished() {
	if c == nil {
		return
	}
	c.chunksPublished.Inc()
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}
