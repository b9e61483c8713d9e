package enums

import "testing"

func TestParseExecutionMode(t *testing.T) {
	mode, err := ParseExecutionMode("server_authoritative")
	if err != nil || mode != ExecutionModeServerAuthoritative {
		t.Fatalf("unexpected parse result %q %v", mode, err)
	}
	if _, err := ParseExecutionMode("optimistic"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestCouponStateValidity(t *testing.T) {
	for _, state := range []CouponState{CouponStateNone, CouponStateApplying, CouponStateApplied, CouponStateRevalidating} {
		if !state.IsValid() {
			t.Fatalf("state %s should be valid", state)
		}
	}
	if CouponState("stacked").IsValid() {
		t.Fatal("unknown state should be invalid")
	}
}

func TestCouponTriggerAutomatic(t *testing.T) {
	if CouponTriggerManual.Automatic() {
		t.Fatal("manual trigger is not automatic")
	}
	for _, trigger := range []CouponTrigger{CouponTriggerSubtotalChange, CouponTriggerAuthTransition, CouponTriggerRestore} {
		if !trigger.Automatic() {
			t.Fatalf("trigger %s should be automatic", trigger)
		}
	}
}

func TestParseTransientPolicy(t *testing.T) {
	if policy, err := ParseTransientPolicy("keep_marker"); err != nil || policy != TransientPolicyKeepMarker {
		t.Fatalf("unexpected parse result %q %v", policy, err)
	}
	if _, err := ParseTransientPolicy("retry_forever"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
