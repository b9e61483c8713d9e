package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/kv"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	mu       sync.Mutex
	requests []cart.ApplyCouponRequest
	respond  func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error)
}

func (v *stubValidator) ApplyCoupon(ctx context.Context, req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
	v.mu.Lock()
	v.requests = append(v.requests, req)
	respond := v.respond
	v.mu.Unlock()
	return respond(req)
}

func (v *stubValidator) calls() []cart.ApplyCouponRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]cart.ApplyCouponRequest(nil), v.requests...)
}

// tenPercent accepts any code and discounts 10% of the subtotal.
func tenPercent(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
	discount := req.Subtotal.Mul(decimal.RequireFromString("0.1"))
	return &cart.AppliedCoupon{
		Coupon:          cart.CouponRef{Code: req.Code, ID: "c-1"},
		Discount:        discount,
		AppliedOnAmount: req.Subtotal,
		Subtotal:        req.Subtotal,
		FinalTotal:      decimal.NewNullDecimal(req.Subtotal.Sub(discount)),
	}, nil
}

func minimumSpend(min int64) func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
	return func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
		if req.Subtotal.LessThan(decimal.NewFromInt(min)) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "Minimum spend not met")
		}
		return tenPercent(req)
	}
}

type couponFixture struct {
	engine    *Engine
	state     *cart.State
	marker    *Marker
	validator *stubValidator
	clock     *ManualClock
}

func newCouponFixture(t *testing.T, policy enums.TransientPolicy) *couponFixture {
	t.Helper()
	marker, err := NewMarker(kv.NewMemory(), "sf:coupon_marker:test")
	require.NoError(t, err)

	state := cart.NewState()
	validator := &stubValidator{respond: tenPercent}
	clock := NewManualClock(time.Unix(0, 0))
	engine, err := NewEngine(EngineParams{
		Logger:          logger.Nop(),
		State:           state,
		Validator:       validator,
		Marker:          marker,
		Clock:           clock,
		Debounce:        700 * time.Millisecond,
		TransientPolicy: policy,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return &couponFixture{engine: engine, state: state, marker: marker, validator: validator, clock: clock}
}

func (f *couponFixture) setSubtotal(amount int64) {
	c := cart.NewGuestCart("cart-1")
	if amount > 0 {
		c.Items = []cart.CartItem{{
			CartItemID: "line-1",
			Qty:        1,
			SalePrice:  decimal.NewFromInt(amount),
			LineTotal:  decimal.NewFromInt(amount),
		}}
	}
	c.Totals = cart.RecomputeTotals(c.Items)
	f.state.ReplaceCart(c)
}

func (f *couponFixture) markerCode(t *testing.T) string {
	t.Helper()
	code, err := f.marker.Load(context.Background())
	require.NoError(t, err)
	return code
}

func TestApplyRecordsCouponAndMarker(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)

	applied, err := f.engine.Apply(context.Background(), "  WELCOME10 ")
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", applied.Coupon.Code)
	assert.True(t, applied.Discount.Equal(decimal.NewFromInt(10)))

	snap := f.state.Snapshot()
	require.NotNil(t, snap.Coupon)
	assert.Equal(t, enums.CouponStateApplied, snap.CouponState)
	assert.True(t, snap.Payable().Equal(decimal.NewFromInt(90)))
	assert.Equal(t, "WELCOME10", f.markerCode(t))

	calls := f.validator.calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Authenticated)
	assert.True(t, calls[0].Subtotal.Equal(decimal.NewFromInt(100)))
}

func TestAppliedFinalTotalDrivesPayable(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	f.validator.respond = func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
		return &cart.AppliedCoupon{
			Coupon:       cart.CouponRef{Code: req.Code, ID: "c-1"},
			Discount:     decimal.NewFromInt(10),
			Subtotal:     req.Subtotal,
			ShippingCost: decimal.NewFromInt(5),
			FinalTotal:   decimal.NewNullDecimal(decimal.NewFromInt(95)),
		}, nil
	}

	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)
	assert.True(t, f.state.Snapshot().Payable().Equal(decimal.NewFromInt(95)))
}

func TestQualificationFailureFollowsRetryability(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: pkgerrors.New(pkgerrors.CodeValidation, "Minimum spend not met"), want: true},
		{err: pkgerrors.New(pkgerrors.CodeNotFound, "Coupon not found"), want: true},
		{err: pkgerrors.New(pkgerrors.CodeForbidden, "Coupon not available"), want: true},
		{err: pkgerrors.New(pkgerrors.CodeConflict, "Coupon already used"), want: true},
		{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "Token expired"), want: false},
		{err: pkgerrors.New(pkgerrors.CodeDependency, "Coupon service unavailable"), want: false},
		{err: context.DeadlineExceeded, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, qualificationFailure(tt.err), "%v", tt.err)
	}
}

func TestApplyFailureClearsCouponAndMarker(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	f.validator.respond = func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Invalid coupon code")
	}
	_, err = f.engine.Apply(context.Background(), "BOGUS")
	require.Error(t, err)
	assert.Equal(t, "Invalid coupon code", pkgerrors.As(err).Message())

	snap := f.state.Snapshot()
	assert.Nil(t, snap.Coupon)
	assert.Equal(t, enums.CouponStateNone, snap.CouponState)
	assert.Empty(t, f.markerCode(t))
}

func TestApplyRequiresCode(t *testing.T) {
	f := newCouponFixture(t, "")
	_, err := f.engine.Apply(context.Background(), "   ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.validator.calls())
}

func TestSubtotalBurstTriggersSingleRevalidation(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	for _, amount := range []int64{110, 120, 130, 140, 150} {
		f.setSubtotal(amount)
		f.clock.Advance(100 * time.Millisecond)
	}
	assert.Len(t, f.validator.calls(), 1, "no revalidation inside the debounce window")

	f.clock.Advance(600 * time.Millisecond)
	calls := f.validator.calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[1].Subtotal.Equal(decimal.NewFromInt(150)))

	snap := f.state.Snapshot()
	assert.True(t, snap.Coupon.Discount.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, enums.CouponStateApplied, snap.CouponState)
}

func TestRevalidationRejectionRemovesCouponSilently(t *testing.T) {
	f := newCouponFixture(t, "")
	f.validator.respond = minimumSpend(50)
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	f.setSubtotal(40)
	f.clock.Advance(700 * time.Millisecond)

	snap := f.state.Snapshot()
	assert.Nil(t, snap.Coupon)
	assert.Equal(t, enums.CouponStateNone, snap.CouponState)
	assert.Empty(t, f.markerCode(t))
	assert.Len(t, f.validator.calls(), 2)

	f.setSubtotal(80)
	f.clock.Advance(time.Second)
	assert.Len(t, f.validator.calls(), 2, "a removed coupon is not revalidated")
}

func TestTransientFailureKeepsMarkerForReplay(t *testing.T) {
	f := newCouponFixture(t, enums.TransientPolicyKeepMarker)
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	f.validator.respond = func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "service unavailable")
	}
	f.setSubtotal(120)
	f.clock.Advance(700 * time.Millisecond)

	assert.Nil(t, f.state.Snapshot().Coupon)
	assert.Equal(t, "WELCOME10", f.markerCode(t))

	f.validator.respond = tenPercent
	f.setSubtotal(130)
	f.clock.Advance(700 * time.Millisecond)

	snap := f.state.Snapshot()
	require.NotNil(t, snap.Coupon)
	assert.Equal(t, "WELCOME10", snap.Coupon.Coupon.Code)
	assert.True(t, snap.Coupon.AppliedOnAmount.Equal(decimal.NewFromInt(130)))
}

func TestTransientFailureWithRemovePolicyDropsMarker(t *testing.T) {
	f := newCouponFixture(t, enums.TransientPolicyRemove)
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	f.validator.respond = func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "service unavailable")
	}
	f.setSubtotal(120)
	f.clock.Advance(700 * time.Millisecond)

	assert.Nil(t, f.state.Snapshot().Coupon)
	assert.Empty(t, f.markerCode(t))
}

func TestEmptyCartRemovesCouponWithoutValidation(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	f.setSubtotal(0)
	assert.Nil(t, f.state.Snapshot().Coupon)
	assert.Empty(t, f.markerCode(t))
	assert.False(t, f.engine.Pending())
	assert.Len(t, f.validator.calls(), 1)
}

func TestRestoreReplaysMarker(t *testing.T) {
	f := newCouponFixture(t, "")
	require.NoError(t, f.marker.Save(context.Background(), "WELCOME10"))
	f.setSubtotal(100)
	assert.Empty(t, f.validator.calls(), "marker is not replayed before restore")

	require.NoError(t, f.engine.Restore(context.Background()))
	assert.True(t, f.engine.Pending())
	f.clock.Advance(700 * time.Millisecond)

	snap := f.state.Snapshot()
	require.NotNil(t, snap.Coupon)
	assert.Equal(t, "WELCOME10", snap.Coupon.Coupon.Code)
	assert.True(t, snap.Coupon.Discount.Equal(decimal.NewFromInt(10)))
	require.Len(t, f.validator.calls(), 1)
}

func TestRestoreWithoutMarkerIsNoop(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	require.NoError(t, f.engine.Restore(context.Background()))
	assert.False(t, f.engine.Pending())
}

func TestRestoreOnEmptyCartDropsMarker(t *testing.T) {
	f := newCouponFixture(t, "")
	require.NoError(t, f.marker.Save(context.Background(), "WELCOME10"))
	require.NoError(t, f.engine.Restore(context.Background()))
	assert.Empty(t, f.markerCode(t))
	assert.Empty(t, f.validator.calls())
}

func TestLoginReappliesOnceAfterSubtotalChanges(t *testing.T) {
	f := newCouponFixture(t, "")
	ctx := context.Background()
	f.setSubtotal(100)
	_, err := f.engine.Apply(ctx, "WELCOME10")
	require.NoError(t, err)

	require.NoError(t, f.engine.SetAuthenticated(ctx, true))
	f.setSubtotal(100)
	f.clock.Advance(time.Second)
	assert.Len(t, f.validator.calls(), 1, "an unchanged subtotal does not fire the re-apply")

	f.setSubtotal(180)
	f.clock.Advance(700 * time.Millisecond)
	calls := f.validator.calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[1].Authenticated)
	assert.True(t, calls[1].Subtotal.Equal(decimal.NewFromInt(180)))

	f.clock.Advance(time.Second)
	assert.Len(t, f.validator.calls(), 2)
}

func TestFlushRunsPendingRevalidation(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	f.setSubtotal(200)
	require.True(t, f.engine.Flush())
	assert.Len(t, f.validator.calls(), 2)
	assert.False(t, f.engine.Flush())
}

func TestRemoveDuringApplySupersedesResult(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	f.validator.respond = func(req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
		require.NoError(t, f.engine.Remove(context.Background()))
		return tenPercent(req)
	}

	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	snap := f.state.Snapshot()
	assert.Nil(t, snap.Coupon)
	assert.Equal(t, enums.CouponStateNone, snap.CouponState)
	assert.Empty(t, f.markerCode(t))
}

func TestCloseStopsObservingState(t *testing.T) {
	f := newCouponFixture(t, "")
	f.setSubtotal(100)
	_, err := f.engine.Apply(context.Background(), "WELCOME10")
	require.NoError(t, err)

	f.engine.Close()
	f.setSubtotal(300)
	f.clock.Advance(time.Second)
	assert.Len(t, f.validator.calls(), 1)
}

func TestNewEngineRejectsUnknownPolicy(t *testing.T) {
	marker, err := NewMarker(kv.NewMemory(), "k")
	require.NoError(t, err)
	_, err = NewEngine(EngineParams{
		Logger:          logger.Nop(),
		State:           cart.NewState(),
		Validator:       &stubValidator{respond: tenPercent},
		Marker:          marker,
		TransientPolicy: "retry_forever",
	})
	assert.Error(t, err)
}
