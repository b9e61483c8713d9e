package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics records cart mutation, coupon validation, and backend call outcomes.
type CartMetrics struct {
	mutations        *prometheus.CounterVec
	couponChecks     *prometheus.CounterVec
	gatewayDuration  *prometheus.HistogramVec
	staleResponses   prometheus.Counter
	coalescedFetches prometheus.Counter
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_mutations_total",
		Help: "Cart operations by execution mode and outcome.",
	}, []string{"op", "mode", "outcome"})
	couponChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_coupon_validations_total",
		Help: "Coupon validation calls by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_gateway_request_duration_seconds",
		Help:    "Duration of backend cart API calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "status"})
	staleResponses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_stale_responses_total",
		Help: "Server cart responses discarded because a newer response was already applied.",
	})
	coalescedFetches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_coalesced_fetches_total",
		Help: "Cart fetches that joined an in-flight request instead of issuing a new one.",
	})
	reg.MustRegister(mutations, couponChecks, gatewayDuration, staleResponses, coalescedFetches)
	return &CartMetrics{
		mutations:        mutations,
		couponChecks:     couponChecks,
		gatewayDuration:  gatewayDuration,
		staleResponses:   staleResponses,
		coalescedFetches: coalescedFetches,
	}
}

// IncMutation counts a cart operation.
func (c *CartMetrics) IncMutation(op, mode, outcome string) {
	if c == nil || c.mutations == nil {
		return
	}
	c.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(mode), normalizeLabel(outcome)).Inc()
}

// IncCouponValidation counts a coupon validation call.
func (c *CartMetrics) IncCouponValidation(trigger, outcome string) {
	if c == nil || c.couponChecks == nil {
		return
	}
	c.couponChecks.WithLabelValues(normalizeLabel(trigger), normalizeLabel(outcome)).Inc()
}

// ObserveGateway records the duration of a backend call.
func (c *CartMetrics) ObserveGateway(op, status string, duration time.Duration) {
	if c == nil || c.gatewayDuration == nil {
		return
	}
	c.gatewayDuration.WithLabelValues(normalizeLabel(op), normalizeLabel(status)).Observe(duration.Seconds())
}

// IncStaleResponse counts a discarded out-of-order server response.
func (c *CartMetrics) IncStaleResponse() {
	if c == nil || c.staleResponses == nil {
		return
	}
	c.staleResponses.Inc()
}

// IncCoalescedFetch counts a fetch that shared an in-flight request.
func (c *CartMetrics) IncCoalescedFetch() {
	if c == nil || c.coalescedFetches == nil {
		return
	}
	c.coalescedFetches.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
