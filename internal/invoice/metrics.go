package invoice

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for form handlers.
type Metrics struct {
	handlers *prometheus.CounterVec
	duration *prometheus.HistogramVec
	payments *prometheus.CounterVec
}

// NewMetrics registers the form metrics. A nil registerer falls back to the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	handlers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_invoice_handler_total",
		Help: "Form handler invocations partitioned by handler and result.",
	}, []string{"handler", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_invoice_handler_duration_seconds",
		Help:    "Duration of form handlers including ERP round trips.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_invoice_payment_attempts_total",
		Help: "Payment confirmation attempts partitioned by gate state after settlement.",
	}, []string{"state"})
	registerer.MustRegister(handlers, duration, payments)
	return &Metrics{handlers: handlers, duration: duration, payments: payments}
}

func (m *Metrics) observe(handler string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.handlers.WithLabelValues(handler, resultLabel(err)).Inc()
	m.duration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}

func (m *Metrics) payment(state GateState) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(string(state)).Inc()
}

func resultLabel(err error) string {
	var verr *ValidationError
	var rejected *PaymentRejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, ErrFormLocked), errors.Is(err, ErrGateBusy):
		return "conflict"
	default:
		return "error"
	}
}
