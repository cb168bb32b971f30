package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine collects session level counters. It satisfies engine.Metrics.
type Engine struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	forfeitsTotal  *prometheus.CounterVec
	pingsTotal     *prometheus.CounterVec
	linesTotal     *prometheus.CounterVec
}

// NewEngine registers the engine metrics on reg. A nil reg uses the default registerer.
func NewEngine(reg prometheus.Registerer) *Engine {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Engine{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "engine_sessions_active",
			Help: "Number of engine processes currently running",
		}),
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "engine_sessions_total",
			Help: "Total number of engine processes launched",
		}),
		forfeitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_forfeits_total",
			Help: "Total number of games forfeited by an engine, by reason",
		}, []string{"reason"}),
		pingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_pings_total",
			Help: "Total number of engine pings by outcome (sent, pong, timeout)",
		}, []string{"outcome"}),
		linesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_lines_total",
			Help: "Total number of protocol lines exchanged with engines, by direction",
		}, []string{"direction"}),
	}
}

func (m *Engine) SessionStarted() {
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Engine) SessionEnded() { m.sessionsActive.Dec() }

func (m *Engine) Forfeit(reason string) {
	m.forfeitsTotal.WithLabelValues(normalize(reason)).Inc()
}

func (m *Engine) Ping(outcome string) {
	m.pingsTotal.WithLabelValues(normalize(outcome)).Inc()
}

func (m *Engine) Line(direction string) {
	m.linesTotal.WithLabelValues(normalize(direction)).Inc()
}

func normalize(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "unknown"
	}
	return label
}
