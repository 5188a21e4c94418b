// Package metrics exposes Prometheus collectors for the mock server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records request, gate and generation metrics. It satisfies both
// gate.Observer and coordinator.Observer.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	gateAcquisitions *prometheus.CounterVec
	gateWait         prometheus.Histogram
	gateHold         prometheus.Histogram
	gateHeld         prometheus.Gauge

	framesTotal *prometheus.CounterVec
	stepsTotal  prometheus.Counter
}

// New registers the collectors on reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Generation requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from gate acquisition attempt to response completion",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		gateAcquisitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "acquisitions_total",
				Help:      "Gate acquisition attempts by result",
			},
			[]string{"result"},
		),
		gateWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for the gate",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		gateHold: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "hold_seconds",
				Help:      "Time the gate was held per request",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		gateHeld: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "held",
				Help:      "1 while a request holds the gate",
			},
		),
		framesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_frames_total",
				Help:      "Streaming frames written by kind",
			},
			[]string{"kind"},
		),
		stepsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_steps_total",
				Help:      "Generator items consumed",
			},
		),
	}
}

// Handler serves the metrics gathered by reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// GateAcquired implements gate.Observer.
func (c *Collector) GateAcquired(wait time.Duration, err error) {
	c.gateWait.Observe(wait.Seconds())
	if err != nil {
		c.gateAcquisitions.WithLabelValues("error").Inc()
		return
	}
	c.gateAcquisitions.WithLabelValues("ok").Inc()
	c.gateHeld.Set(1)
}

// GateReleased implements gate.Observer.
func (c *Collector) GateReleased(hold time.Duration) {
	c.gateHold.Observe(hold.Seconds())
	c.gateHeld.Set(0)
}

// RequestFinished implements coordinator.Observer.
func (c *Collector) RequestFinished(mode, outcome string, dur time.Duration) {
	c.requestsTotal.WithLabelValues(mode, outcome).Inc()
	c.requestDuration.WithLabelValues(mode).Observe(dur.Seconds())
}

// FrameWritten implements coordinator.Observer.
func (c *Collector) FrameWritten(kind string) {
	c.framesTotal.WithLabelValues(kind).Inc()
}

// StepConsumed implements coordinator.Observer.
func (c *Collector) StepConsumed() {
	c.stepsTotal.Inc()
}
