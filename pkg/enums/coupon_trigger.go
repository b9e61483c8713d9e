package enums

import "fmt"

// CouponTrigger records what caused a coupon validation call.
type CouponTrigger string

const (
	CouponTriggerManual         CouponTrigger = "manual"
	CouponTriggerSubtotalChange CouponTrigger = "subtotal_change"
	CouponTriggerAuthTransition CouponTrigger = "auth_transition"
	CouponTriggerRestore        CouponTrigger = "restore"
)

var validCouponTriggers = []CouponTrigger{
	CouponTriggerManual,
	CouponTriggerSubtotalChange,
	CouponTriggerAuthTransition,
	CouponTriggerRestore,
}

// String implements fmt.Stringer.
func (e CouponTrigger) String() string {
	return string(e)
}

// IsValid reports whether the value is a known CouponTrigger.
func (e CouponTrigger) IsValid() bool {
	for _, candidate := range validCouponTriggers {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseCouponTrigger converts raw input into a CouponTrigger.
func ParseCouponTrigger(value string) (CouponTrigger, error) {
	for _, candidate := range validCouponTriggers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon trigger %q", value)
}

// Automatic reports whether the trigger was not a direct user action.
func (e CouponTrigger) Automatic() bool {
	return e != CouponTriggerManual
}
