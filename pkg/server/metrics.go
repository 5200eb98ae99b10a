package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one Game. Each Game gets its
// own registry so several can live in one process.
type Metrics struct {
	game     *Game
	registry *prometheus.Registry

	invocationsTotal  *prometheus.CounterVec
	invocationSeconds prometheus.Histogram
	opcodeCallsTotal  *prometheus.CounterVec
	capabilityDenials *prometheus.CounterVec
	commandsTotal     prometheus.Counter
	sessionsConnected *prometheus.GaugeVec
	entitiesTotal     prometheus.Gauge
	uptimeSeconds     prometheus.Gauge
	goroutines        prometheus.Gauge
}

// NewMetrics creates and registers the game's metrics.
func NewMetrics(game *Game) *Metrics {
	m := &Metrics{
		game:     game,
		registry: prometheus.NewRegistry(),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushscript_invocations_total",
			Help: "Script invocations by outcome (ok, fault, cancelled, internal).",
		}, []string{"outcome"}),
		invocationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mushscript_invocation_duration_seconds",
			Help:    "Wall time of script invocations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		opcodeCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushscript_opcode_calls_total",
			Help: "Library opcode dispatches by opcode name.",
		}, []string{"opcode"}),
		capabilityDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushscript_capability_denials_total",
			Help: "Capability calls refused at the ownership check, by type.",
		}, []string{"type"}),
		commandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushscript_commands_processed_total",
			Help: "Player commands processed since server start.",
		}),
		sessionsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mushscript_sessions_connected",
			Help: "Logged-in sessions by transport.",
		}, []string{"transport"}),
		entitiesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushscript_entities_total",
			Help: "Entities in the world.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushscript_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushscript_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.invocationsTotal,
		m.invocationSeconds,
		m.opcodeCallsTotal,
		m.capabilityDenials,
		m.commandsTotal,
		m.sessionsConnected,
		m.entitiesTotal,
		m.uptimeSeconds,
		m.goroutines,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) invocation(err error, d time.Duration) {
	m.invocationsTotal.WithLabelValues(outcome(err)).Inc()
	m.invocationSeconds.Observe(d.Seconds())
}

func (m *Metrics) opcodeCall(name string) {
	m.opcodeCallsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) capabilityDenied(typ string) {
	m.capabilityDenials.WithLabelValues(typ).Inc()
}

func (m *Metrics) command() { m.commandsTotal.Inc() }

// Update refreshes the gauges from current game state.
func (m *Metrics) Update() {
	tcp, ws := m.game.Conns.SessionCounts()
	m.sessionsConnected.WithLabelValues("tcp").Set(float64(tcp))
	m.sessionsConnected.WithLabelValues("websocket").Set(float64(ws))
	m.entitiesTotal.Set(float64(len(m.game.store.ListEntities())))
	m.uptimeSeconds.Set(m.game.Uptime().Seconds())
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Registry exposes the collectors, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
