package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCartMetricsRecordsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCartMetrics(reg)

	m.IncMutation("add_item", "local", "success")
	m.IncMutation("add_item", "local", "success")
	m.IncMutation("", "server_authoritative", "error")
	m.IncCouponValidation("subtotal_change", "removed")
	m.IncStaleResponse()
	m.IncCoalescedFetch()
	m.ObserveGateway("get-cart", "200", 150*time.Millisecond)

	if got := testutil.ToFloat64(m.mutations.WithLabelValues("add_item", "local", "success")); got != 2 {
		t.Fatalf("expected 2 add_item mutations got %v", got)
	}
	if got := testutil.ToFloat64(m.mutations.WithLabelValues("unknown", "server_authoritative", "error")); got != 1 {
		t.Fatalf("empty op should be normalized to unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.couponChecks.WithLabelValues("subtotal_change", "removed")); got != 1 {
		t.Fatalf("unexpected coupon validation count %v", got)
	}
	if got := testutil.ToFloat64(m.staleResponses); got != 1 {
		t.Fatalf("unexpected stale count %v", got)
	}
	if got := testutil.ToFloat64(m.coalescedFetches); got != 1 {
		t.Fatalf("unexpected coalesced count %v", got)
	}
	if got := testutil.CollectAndCount(m.gatewayDuration); got != 1 {
		t.Fatalf("expected one gateway histogram series got %d", got)
	}
}

func TestNilCartMetricsAreSafe(t *testing.T) {
	var m *CartMetrics
	m.IncMutation("add_item", "local", "success")
	m.IncCouponValidation("manual", "applied")
	m.ObserveGateway("get-cart", "200", time.Second)
	m.IncStaleResponse()
	m.IncCoalescedFetch()

	unregistered := NewCartMetrics(nil)
	unregistered.IncMutation("remove_item", "local", "success")
}

func TestGatewayHistogramExportsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCartMetrics(reg)
	m.ObserveGateway("apply-coupon", "200", 300*time.Millisecond)
	m.ObserveGateway("apply-coupon", "200", 200*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	sum, count, err := fetchHistogram(mfs, "storefront_gateway_request_duration_seconds", "op", "apply-coupon")
	if err != nil {
		t.Fatalf("fetch histogram: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 observations got %d", count)
	}
	if sum < 0.49 || sum > 0.51 {
		t.Fatalf("expected duration sum near 0.5 got %f", sum)
	}
}

func fetchHistogram(mfs []*dto.MetricFamily, name, label, value string) (float64, uint64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabel(metric.GetLabel(), label, value) {
				h := metric.GetHistogram()
				return h.GetSampleSum(), h.GetSampleCount(), nil
			}
		}
		return 0, 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
	}
	return 0, 0, fmt.Errorf("metric %q not found", name)
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
