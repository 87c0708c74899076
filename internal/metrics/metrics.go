// Package metrics holds the Prometheus collectors of the store and its HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RecordOperations *prometheus.CounterVec
	AuditFailures    prometheus.Counter
	LoginAttempts    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	TCPCommands      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agricare_record_operations_total",
			Help: "Record store operations by collection, operation and result",
		}, []string{"collection", "op", "result"}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agricare_audit_failures_total",
			Help: "Mutation hooks that failed after a successful write",
		}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agricare_login_attempts_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agricare_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route", "status"}),
		TCPCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agricare_tcp_commands_total",
			Help: "Line protocol commands by command and reply",
		}, []string{"command", "reply"}),
	}
}

// Nop returns unregistered collectors.
func Nop() *Metrics {
	return New(nil)
}

// ObserveRecord counts one record store operation.
func (m *Metrics) ObserveRecord(collection, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RecordOperations.WithLabelValues(collection, op, result).Inc()
}

// IncrementAuditFailures records a hook failure.
func (m *Metrics) IncrementAuditFailures() {
	m.AuditFailures.Inc()
}

// ObserveRequest records the duration of an HTTP request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(method, route, status string, start time.Time) {
	m.RequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
}
