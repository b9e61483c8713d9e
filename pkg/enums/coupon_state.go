package enums

import "fmt"

// CouponState is the lifecycle position of the applied coupon.
type CouponState string

const (
	CouponStateNone         CouponState = "no_coupon"
	CouponStateApplying     CouponState = "applying"
	CouponStateApplied      CouponState = "applied"
	CouponStateRevalidating CouponState = "revalidating"
)

var validCouponStates = []CouponState{
	CouponStateNone,
	CouponStateApplying,
	CouponStateApplied,
	CouponStateRevalidating,
}

// String implements fmt.Stringer.
func (e CouponState) String() string {
	return string(e)
}

// IsValid reports whether the value is a known CouponState.
func (e CouponState) IsValid() bool {
	for _, candidate := range validCouponStates {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseCouponState converts raw input into a CouponState.
func ParseCouponState(value string) (CouponState, error) {
	for _, candidate := range validCouponStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon state %q", value)
}
