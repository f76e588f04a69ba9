package audit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// Metrics is a Sink that counts stored records for Prometheus.
type Metrics struct {
	Handoffs   *prometheus.CounterVec
	Blocked    *prometheus.CounterVec
	Violations *prometheus.CounterVec
	Duration   prometheus.Histogram
}

// NewMetrics creates and registers the audit metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Handoffs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failsafe_handoffs_total",
				Help: "Audited handoffs by overall result",
			},
			[]string{"result"},
		),
		Blocked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failsafe_handoffs_blocked_total",
				Help: "Audited handoffs that were blocked",
			},
			[]string{"consumer", "provider"},
		),
		Violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failsafe_violations_total",
				Help: "Violations by severity and rule",
			},
			[]string{"severity", "rule_id"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "failsafe_validation_duration_ms",
				Help:    "Validation time per handoff in milliseconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
			},
		),
	}
}

func (m *Metrics) Publish(_ context.Context, rec contracts.Record) error {
	m.Handoffs.WithLabelValues(string(rec.Result)).Inc()
	if rec.Blocked {
		m.Blocked.WithLabelValues(rec.Consumer, rec.Provider).Inc()
	}
	for _, v := range rec.AllViolations() {
		m.Violations.WithLabelValues(string(v.Severity), v.RuleID).Inc()
	}
	m.Duration.Observe(rec.ValidationDurationMs)
	return nil
}

// RegisterAppendErrors exposes l.AppendErrors as a counter on reg.
func RegisterAppendErrors(reg prometheus.Registerer, l *Logger) error {
	return reg.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "failsafe_audit_append_errors_total",
			Help: "Results that could not be written to the audit store",
		},
		func() float64 { return float64(l.AppendErrors()) },
	))
}
