package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botgraph/server/internal/agent/model"
)

// Metrics exposes the turn-level counters on /metrics.
type Metrics struct {
	registry     *prometheus.Registry
	turnsTotal   *prometheus.CounterVec
	turnDuration prometheus.Histogram
	routesTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botgraph_turns_total",
				Help: "Executed turns by outcome.",
			},
			[]string{"outcome"},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "botgraph_turn_duration_seconds",
				Help:    "Wall time of a full turn including model and tool calls.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		routesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botgraph_route_decisions_total",
				Help: "Routing decisions by source.",
			},
			[]string{"source"},
		),
	}
	m.registry.MustRegister(m.turnsTotal, m.turnDuration, m.routesTotal)
	return m
}

func (m *Metrics) observeTurn(outcome string, elapsed time.Duration) {
	m.turnsTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.turnDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeRoute(source model.RouteSource) {
	m.routesTotal.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
