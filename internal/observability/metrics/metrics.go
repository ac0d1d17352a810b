package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the hold and appointment lifecycle.
type BookingMetrics struct {
	holdsCreated   prometheus.Counter
	holdConflicts  *prometheus.CounterVec
	holdsReleased  *prometheus.CounterVec
	promotions     *prometheus.CounterVec
	cancellations  *prometheus.CounterVec
	resolveLatency prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		holdsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservations",
			Name:      "holds_created_total",
			Help:      "Total holds created",
		}),
		holdConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservations",
			Name:      "hold_rejections_total",
			Help:      "Hold attempts rejected, by error code",
		}, []string{"code"}),
		holdsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservations",
			Name:      "holds_released_total",
			Help:      "Holds deleted, by reason",
		}, []string{"reason"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservations",
			Name:      "promotions_total",
			Help:      "Holds promoted to confirmed, by method",
		}, []string{"method"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservations",
			Name:      "cancellations_total",
			Help:      "Appointments canceled, by previous status",
		}, []string{"from_status"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "availability",
			Name:      "resolve_latency_seconds",
			Help:      "Latency of slot resolution including storage reads",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.holdsCreated, m.holdConflicts, m.holdsReleased, m.promotions, m.cancellations, m.resolveLatency)
	return m
}

func (m *BookingMetrics) ObserveHoldCreated() {
	if m == nil {
		return
	}
	m.holdsCreated.Inc()
}

func (m *BookingMetrics) ObserveHoldRejected(code string) {
	if m == nil {
		return
	}
	m.holdConflicts.WithLabelValues(code).Inc()
}

func (m *BookingMetrics) ObserveHoldReleased(reason string) {
	if m == nil {
		return
	}
	m.holdsReleased.WithLabelValues(reason).Inc()
}

func (m *BookingMetrics) ObservePromotion(method string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(method).Inc()
}

func (m *BookingMetrics) ObserveCancellation(fromStatus string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(fromStatus).Inc()
}

func (m *BookingMetrics) ObserveResolveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.resolveLatency.Observe(seconds)
}
