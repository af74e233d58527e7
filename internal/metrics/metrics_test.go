package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInteractionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewInteraction(reg)

	m.QuestionsAsked.Inc()
	m.QuestionsAsked.Inc()
	m.QuestionsResolved.WithLabelValues(OutcomeAnswered).Inc()
	m.QuestionsResolved.WithLabelValues(OutcomeTimeout).Inc()
	m.PendingQuestions.Set(3)
	m.ActiveTasks.Set(1)

	require.Equal(t, float64(2), testutil.ToFloat64(m.QuestionsAsked))
	require.Equal(t, float64(1), testutil.ToFloat64(m.QuestionsResolved.WithLabelValues(OutcomeAnswered)))
	require.Equal(t, float64(0), testutil.ToFloat64(m.QuestionsResolved.WithLabelValues(OutcomeCancelled)))
	require.Equal(t, float64(3), testutil.ToFloat64(m.PendingQuestions))
}

func TestInteractionMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewInteraction(reg)
	m.QuestionsAsked.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["taskrelay_questions_asked_total"])
	require.True(t, names["taskrelay_pending_questions"])
	require.True(t, names["taskrelay_active_tasks"])
}
