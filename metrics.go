package soap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for client calls. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Calls         *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	Faults        *prometheus.CounterVec
	AuditFailures prometheus.Counter
}

// NewMetrics registers the client collectors on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_client_calls_total",
			Help: "Total number of SOAP calls by method and outcome",
		}, []string{"method", "status"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soap_client_call_duration_seconds",
			Help:    "Duration of SOAP calls including normalization",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		Faults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_client_faults_total",
			Help: "Total number of SOAP fault responses by method and fault code",
		}, []string{"method", "code"}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "soap_client_audit_failures_total",
			Help: "Total number of audit records that could not be fully persisted",
		}),
	}
}

// ObserveCall records the outcome and duration of one call.
func (m *Metrics) ObserveCall(method string, status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(method, string(status)).Inc()
	m.CallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncFault counts a fault response.
func (m *Metrics) IncFault(method, code string) {
	if m == nil {
		return
	}
	m.Faults.WithLabelValues(method, faultCodeLocal(code)).Inc()
}

// IncAuditFailures counts an incomplete audit record.
func (m *Metrics) IncAuditFailures() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}
