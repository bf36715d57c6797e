package legion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for turn orchestration.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Turns         prometheus.Counter
	TurnDuration  prometheus.Histogram
	StageFailures *prometheus.CounterVec
	Silences      prometheus.Counter
	Speeches      prometheus.Counter
	Agents        prometheus.Gauge
}

// NewMetrics registers the orchestrator collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounter(prometheus.CounterOpts{
			Name: "legion_turns_total",
			Help: "Total number of turns run",
		}),

		// Sum of sequential response latencies dominates, so buckets go high
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "legion_turn_duration_seconds",
			Help:    "Wall time of a full turn in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "legion_stage_failures_total",
			Help: "Per-minion failures by stage",
		}, []string{"stage"}), // perception | response

		Silences: f.NewCounter(prometheus.CounterOpts{
			Name: "legion_silences_total",
			Help: "Minions that chose to stay silent",
		}),

		Speeches: f.NewCounter(prometheus.CounterOpts{
			Name: "legion_speeches_total",
			Help: "AI messages produced",
		}),

		Agents: f.NewGauge(prometheus.GaugeOpts{
			Name: "legion_agents_registered",
			Help: "Minions currently held in the agent registry",
		}),
	}
}

func (m *Metrics) turn(seconds float64) {
	if m == nil {
		return
	}
	m.Turns.Inc()
	m.TurnDuration.Observe(seconds)
}

func (m *Metrics) failure(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) silence() {
	if m == nil {
		return
	}
	m.Silences.Inc()
}

func (m *Metrics) speech() {
	if m == nil {
		return
	}
	m.Speeches.Inc()
}

func (m *Metrics) agents(n int) {
	if m == nil {
		return
	}
	m.Agents.Set(float64(n))
}
