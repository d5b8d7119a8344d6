package observ

import (
	"time"

	"github.com/aq2208/storefront-api/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records checkout outcomes for Prometheus.
type CheckoutMetrics struct {
	outcomes     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	compensation prometheus.Counter
	collisions   prometheus.Counter
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	m := &CheckoutMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "total",
			Help:      "Checkouts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "duration_ms",
			Help:      "Checkout latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"outcome"}),
		compensation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "rollback_failures_total",
			Help:      "Checkouts whose rollback or compensation did not fully succeed.",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "tracking_collisions_total",
			Help:      "Tracking codes rejected by the unique index.",
		}),
	}
	reg.MustRegister(m.outcomes, m.duration, m.compensation, m.collisions)
	return m
}

func (m *CheckoutMetrics) ObserveCheckout(outcome string, d time.Duration) {
	m.outcomes.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

func (m *CheckoutMetrics) CompensationFailed() { m.compensation.Inc() }

func (m *CheckoutMetrics) TrackingCollision() { m.collisions.Inc() }

var _ usecase.CheckoutMetrics = (*CheckoutMetrics)(nil)
