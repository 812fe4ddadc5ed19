package metrics

import "github.com/prometheus/client_golang/prometheus"

// DecisionMetrics exposes counters/histograms for routing decisions and the
// escalation lifecycle.
type DecisionMetrics struct {
	decisionsTotal     *prometheus.CounterVec
	decisionLatency    *prometheus.HistogramVec
	confidence         prometheus.Histogram
	escalationsTotal   *prometheus.CounterVec
	counterCharges     *prometheus.CounterVec
	externalFailures   *prometheus.CounterVec
	decisionLogOutcome *prometheus.CounterVec
}

func NewDecisionMetrics(reg prometheus.Registerer) *DecisionMetrics {
	m := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by path and trigger",
		}, []string{"path", "trigger"}),
		decisionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "router",
			Name:      "decision_latency_seconds",
			Help:      "End-to-end latency of handling one inbound event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "signals",
			Name:      "confidence",
			Help:      "Confidence signal of routed messages",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "escalation",
			Name:      "transitions_total",
			Help:      "Escalation status transitions",
		}, []string{"status"}),
		counterCharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "escalation",
			Name:      "counter_charges_total",
			Help:      "Atomic escalation budget charges by result",
		}, []string{"result"}),
		externalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "signals",
			Name:      "external_failures_total",
			Help:      "Failed or timed out calls to retrieval/generation",
		}, []string{"service"}),
		decisionLogOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "decisionlog",
			Name:      "writes_total",
			Help:      "Decision record writes by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisionsTotal, m.decisionLatency, m.confidence, m.escalationsTotal,
		m.counterCharges, m.externalFailures, m.decisionLogOutcome)
	return m
}

func (m *DecisionMetrics) ObserveDecision(path, trigger string, seconds float64) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(path, trigger).Inc()
	m.decisionLatency.WithLabelValues(path).Observe(seconds)
}

func (m *DecisionMetrics) ObserveConfidence(v float64) {
	if m == nil {
		return
	}
	m.confidence.Observe(v)
}

func (m *DecisionMetrics) ObserveEscalation(status string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(status).Inc()
}

// ObserveCounterCharge records one TryIncrement outcome: "charged",
// "limit_reached" or "error".
func (m *DecisionMetrics) ObserveCounterCharge(result string) {
	if m == nil {
		return
	}
	m.counterCharges.WithLabelValues(result).Inc()
}

func (m *DecisionMetrics) ObserveExternalFailure(service string) {
	if m == nil {
		return
	}
	m.externalFailures.WithLabelValues(service).Inc()
}

// ObserveDecisionLog records a decision log write outcome: written, retried,
// dropped, overflow when a full queue was bypassed, or inline after close.
func (m *DecisionMetrics) ObserveDecisionLog(outcome string) {
	if m == nil {
		return
	}
	m.decisionLogOutcome.WithLabelValues(outcome).Inc()
}
