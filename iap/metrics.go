package iap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess        = "success"
	resultFailure        = "failure"
	resultError          = "error"
	resultUnknownService = "unknown_service"

	// unknownServiceLabel replaces caller-supplied service names that match no
	// adapter, keeping the label set bounded.
	unknownServiceLabel = "unknown"
)

// Metrics records validation and setup outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	validations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	setups      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iap_validations_total",
			Help: "Receipt validations by service and result.",
		}, []string{"service", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iap_validation_duration_seconds",
			Help:    "Time spent in storefront adapters validating a receipt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		setups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iap_adapter_setups_total",
			Help: "Adapter setup attempts by service and result.",
		}, []string{"service", "result"}),
	}

	reg.MustRegister(m.validations, m.latency, m.setups)

	return m
}

func (m *Metrics) recordValidation(service Service, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if result == resultUnknownService {
		m.validations.WithLabelValues(unknownServiceLabel, result).Inc()
		return
	}
	m.validations.WithLabelValues(service.String(), result).Inc()
	m.latency.WithLabelValues(service.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) recordSetup(service Service, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	m.setups.WithLabelValues(service.String(), result).Inc()
}
