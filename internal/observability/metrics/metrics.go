package metrics

import "github.com/prometheus/client_golang/prometheus"

// AgendaMetrics exposes counters/histograms for the appointment and reminder flows.
type AgendaMetrics struct {
	transitionsRejected *prometheus.CounterVec
	auditFailures       prometheus.Counter
	deliveriesTotal     *prometheus.CounterVec
	sweepItemsTotal     *prometheus.CounterVec
	sweepDuration       *prometheus.HistogramVec
	remindersCreated    *prometheus.CounterVec
}

func NewAgendaMetrics(reg prometheus.Registerer) *AgendaMetrics {
	m := &AgendaMetrics{
		transitionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "transitions_rejected_total",
			Help:      "Status transitions rejected by the state machine",
		}, []string{"current", "requested"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "audit_write_failures_total",
			Help:      "Audit writes that failed after a successful mutation",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "deliveries_total",
			Help:      "Reminder delivery attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		sweepItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "sweep_items_total",
			Help:      "Reminders handled per sweep by outcome",
		}, []string{"sweep", "outcome"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduler sweeps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		remindersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "created_total",
			Help:      "Reminders created by source",
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsRejected, m.auditFailures, m.deliveriesTotal,
		m.sweepItemsTotal, m.sweepDuration, m.remindersCreated)
	return m
}

func (m *AgendaMetrics) ObserveTransitionRejected(current, requested string) {
	if m == nil {
		return
	}
	m.transitionsRejected.WithLabelValues(current, requested).Inc()
}

func (m *AgendaMetrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *AgendaMetrics) ObserveDelivery(channel, outcome string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *AgendaMetrics) ObserveSweepItem(sweep, outcome string) {
	if m == nil {
		return
	}
	m.sweepItemsTotal.WithLabelValues(sweep, outcome).Inc()
}

func (m *AgendaMetrics) ObserveSweepDuration(sweep string, seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(seconds)
}

func (m *AgendaMetrics) ObserveReminderCreated(source string) {
	if m == nil {
		return
	}
	m.remindersCreated.WithLabelValues(source).Inc()
}
