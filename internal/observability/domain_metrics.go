package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_translations_total",
			Help: "Total number of natural-language translation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_executions_total",
			Help: "Total number of executed statements by classification and outcome.",
		},
		[]string{"classification", "outcome"},
	)
	degradedExecutionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_degraded_executions_total",
			Help: "Total number of statements executed outside a transaction.",
		},
	)
	rollbackCapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_rollback_captures_total",
			Help: "Total number of rollback capture attempts by availability.",
		},
		[]string{"available"},
	)
	historyActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_history_actions_total",
			Help: "Total number of undo, redo, and replay actions by outcome.",
		},
		[]string{"action", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		translationsTotal,
		executionsTotal,
		degradedExecutionsTotal,
		rollbackCapturesTotal,
		historyActionsTotal,
	)
}

func RecordTranslation(outcome string) {
	translationsTotal.WithLabelValues(outcome).Inc()
}

func RecordExecution(classification string, success, degraded bool) {
	executionsTotal.WithLabelValues(classification, outcomeLabel(success)).Inc()
	if degraded {
		degradedExecutionsTotal.Inc()
	}
}

func RecordRollbackCapture(available bool) {
	label := "false"
	if available {
		label = "true"
	}
	rollbackCapturesTotal.WithLabelValues(label).Inc()
}

func RecordHistoryAction(action string, success bool) {
	historyActionsTotal.WithLabelValues(action, outcomeLabel(success)).Inc()
}

func outcomeLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
