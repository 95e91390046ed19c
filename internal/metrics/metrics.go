// Package metrics holds the runtime's Prometheus collectors. Collectors
// are registered on an injected registry, never the global one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lgdl"

type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	StageTotal          *prometheus.CounterVec
	NegotiationsTotal   *prometheus.CounterVec
	NegotiationRounds   prometheus.Histogram
	LLMCostDollars      prometheus.Counter
	LLMTokensTotal      *prometheus.CounterVec
	LLMCallSeconds      prometheus.Histogram
	TurnDurationSeconds *prometheus.HistogramVec
	FirewallTriggered   prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed turns by outcome",
		}, []string{"outcome"}),
		StageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "stage_total",
			Help:      "Cascade results by deciding stage",
		}, []string{"stage"}),
		NegotiationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "total",
			Help:      "Negotiations by terminal reason",
		}, []string{"reason"}),
		NegotiationRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "rounds",
			Help:      "Rounds used per negotiation",
			Buckets:   []float64{0, 1, 2, 3, 5},
		}),
		LLMCostDollars: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "cost_dollars_total",
			Help:      "Estimated LLM spend",
		}),
		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens used by completions",
		}, []string{"model"}),
		LLMCallSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Completion latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		TurnDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn processing latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		FirewallTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "firewall",
			Name:      "triggered_total",
			Help:      "Turns whose input was sanitized",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TurnsTotal,
			m.StageTotal,
			m.NegotiationsTotal,
			m.NegotiationRounds,
			m.LLMCostDollars,
			m.LLMTokensTotal,
			m.LLMCallSeconds,
			m.TurnDurationSeconds,
			m.FirewallTriggered,
		)
	}
	return m
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome, stage string, d time.Duration, firewall bool) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.StageTotal.WithLabelValues(stage).Inc()
	m.TurnDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
	if firewall {
		m.FirewallTriggered.Inc()
	}
}

func (m *Metrics) ObserveNegotiation(reason string, rounds int) {
	if m == nil {
		return
	}
	m.NegotiationsTotal.WithLabelValues(reason).Inc()
	m.NegotiationRounds.Observe(float64(rounds))
}

// ObserveLLMCall records the spend of one completion, whichever component
// asked for it.
func (m *Metrics) ObserveLLMCall(model string, dollars float64, tokens int, latency time.Duration) {
	if m == nil {
		return
	}
	if dollars > 0 {
		m.LLMCostDollars.Add(dollars)
	}
	if tokens > 0 {
		m.LLMTokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
	m.LLMCallSeconds.Observe(latency.Seconds())
}
