// Package metrics exposes prometheus instrumentation for the interaction
// core: question lifecycle counters and registry gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Question resolution outcomes.
const (
	OutcomeAnswered  = "answered"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Interaction holds the interaction-core metric instruments.
type Interaction struct {
	QuestionsAsked    prometheus.Counter
	QuestionsResolved *prometheus.CounterVec
	PendingQuestions  prometheus.Gauge
	ActiveTasks       prometheus.Gauge
}

// NewInteraction creates and registers the interaction metrics.
func NewInteraction(reg prometheus.Registerer) *Interaction {
	m := &Interaction{
		QuestionsAsked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "questions_asked_total",
			Help:      "Questions dispatched to the operator.",
		}),
		QuestionsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "questions_resolved_total",
			Help:      "Questions resolved, by outcome.",
		}, []string{"outcome"}),
		PendingQuestions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskrelay",
			Name:      "pending_questions",
			Help:      "Questions currently awaiting an answer.",
		}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskrelay",
			Name:      "active_tasks",
			Help:      "Tasks currently registered with the interaction manager.",
		}),
	}
	reg.MustRegister(m.QuestionsAsked, m.QuestionsResolved, m.PendingQuestions, m.ActiveTasks)
	return m
}

// Handler returns an HTTP handler exporting the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
