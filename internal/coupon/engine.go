package coupon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/shopspring/decimal"
)

const (
	DefaultDebounce    = 700 * time.Millisecond
	defaultCallTimeout = 10 * time.Second

	opApply      = "apply_coupon"
	opRevalidate = "revalidate_coupon"

	outcomeApplied    = "applied"
	outcomeRejected   = "rejected"
	outcomeRemoved    = "removed"
	outcomeTransient  = "transient"
	outcomeSuperseded = "superseded"
	outcomeCartEmpty  = "cart_empty"
)

// Validator asks the backend whether a code applies to a subtotal.
type Validator interface {
	ApplyCoupon(ctx context.Context, req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error)
}

// MarkerStore persists the last applied coupon code.
type MarkerStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, code string) error
	Clear(ctx context.Context) error
}

type EngineParams struct {
	Logger          *logger.Logger
	State           *cart.State
	Validator       Validator
	Marker          MarkerStore
	Clock           Clock
	Debounce        time.Duration
	TransientPolicy enums.TransientPolicy
	CallTimeout     time.Duration
	Metrics         *metrics.CartMetrics
}

// Engine keeps the applied coupon consistent with the cart subtotal. Manual
// applies run immediately; subtotal changes, auth transitions, and restores
// schedule a debounced revalidation against the backend.
type Engine struct {
	logg        *logger.Logger
	state       *cart.State
	validator   Validator
	marker      MarkerStore
	metrics     *metrics.CartMetrics
	policy      enums.TransientPolicy
	callTimeout time.Duration
	debouncer   *Debouncer
	unsubscribe func()

	mu             sync.Mutex
	authenticated  bool
	pendingReapply bool
	markerCode     string
	lastSubtotal   decimal.Decimal
	generation     uint64
	trigger        enums.CouponTrigger
	closed         bool
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.State == nil {
		return nil, fmt.Errorf("cart state required")
	}
	if params.Validator == nil {
		return nil, fmt.Errorf("coupon validator required")
	}
	if params.Marker == nil {
		return nil, fmt.Errorf("coupon marker required")
	}
	policy := params.TransientPolicy
	if policy == "" {
		policy = enums.TransientPolicyKeepMarker
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("invalid transient policy %q", policy)
	}
	debounce := params.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	callTimeout := params.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	e := &Engine{
		logg:         params.Logger,
		state:        params.State,
		validator:    params.Validator,
		marker:       params.Marker,
		metrics:      params.Metrics,
		policy:       policy,
		callTimeout:  callTimeout,
		debouncer:    NewDebouncer(params.Clock, debounce),
		lastSubtotal: params.State.Snapshot().Cart.Subtotal,
	}
	e.unsubscribe = params.State.Subscribe(e.onStateChange)
	return e, nil
}

// Apply validates code against the current subtotal and records it on
// success. A failure clears any applied coupon and its marker and is returned
// to the caller.
func (e *Engine) Apply(ctx context.Context, code string) (*cart.AppliedCoupon, error) {
	code = strings.TrimSpace(code)
	trigger := enums.CouponTriggerManual
	ctx = e.logg.WithFields(ctx, map[string]any{"op": opApply, "coupon_code": code, "trigger": trigger.String()})

	if code == "" {
		e.metrics.IncCouponValidation(trigger.String(), outcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"code": "is required"})
	}

	e.debouncer.Cancel()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon engine closed")
	}
	e.generation++
	gen := e.generation
	authenticated := e.authenticated
	e.pendingReapply = false
	e.mu.Unlock()

	snap := e.state.Snapshot()
	e.state.SetCouponState(enums.CouponStateApplying)
	applied, err := e.validate(ctx, code, snap.Cart.Subtotal, authenticated)

	if !e.isCurrent(gen) {
		e.settle(enums.CouponStateApplying)
		e.metrics.IncCouponValidation(trigger.String(), outcomeSuperseded)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon request was superseded")
	}
	if err != nil {
		e.forget(ctx)
		e.metrics.IncCouponValidation(trigger.String(), outcomeRejected)
		e.logg.Warn(ctx, "coupon rejected")
		return nil, err
	}

	e.adopt(ctx, code, applied)
	e.metrics.IncCouponValidation(trigger.String(), outcomeApplied)
	e.rescheduleIfMoved(snap.Cart.Subtotal)
	return applied.Clone(), nil
}

// Remove drops the applied coupon and its marker.
func (e *Engine) Remove(ctx context.Context) error {
	e.debouncer.Cancel()
	e.mu.Lock()
	e.generation++
	e.pendingReapply = false
	e.markerCode = ""
	e.mu.Unlock()

	e.state.ClearCoupon()
	if err := e.marker.Clear(ctx); err != nil {
		e.logg.Error(ctx, "failed to clear coupon marker", err)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear coupon marker")
	}
	return nil
}

// SetAuthenticated records an auth transition. Logging in with a recorded
// marker arms a re-apply that runs once the subtotal changes under the new
// session.
func (e *Engine) SetAuthenticated(ctx context.Context, authenticated bool) error {
	e.mu.Lock()
	was := e.authenticated
	e.authenticated = authenticated
	if was != authenticated {
		e.generation++
	}
	if !authenticated {
		e.pendingReapply = false
	}
	e.mu.Unlock()

	if !authenticated || was {
		return nil
	}

	e.debouncer.Cancel()
	code, err := e.marker.Load(ctx)
	if err != nil {
		e.logg.Error(ctx, "failed to read coupon marker", err)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read coupon marker")
	}
	e.mu.Lock()
	e.markerCode = code
	e.pendingReapply = code != ""
	e.mu.Unlock()
	return nil
}

// Restore schedules revalidation of the recorded marker when the in-memory
// coupon is missing or disagrees with it.
func (e *Engine) Restore(ctx context.Context) error {
	code, err := e.marker.Load(ctx)
	if err != nil {
		e.logg.Error(ctx, "failed to read coupon marker", err)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read coupon marker")
	}
	e.mu.Lock()
	e.markerCode = code
	e.mu.Unlock()
	if code == "" {
		return nil
	}

	snap := e.state.Snapshot()
	if len(snap.Cart.Items) == 0 {
		e.discard(e.logg.WithCouponCode(ctx, code), enums.CouponTriggerRestore, outcomeCartEmpty)
		return nil
	}
	if snap.Coupon != nil && snap.Coupon.Coupon.Code == code {
		return nil
	}
	e.schedule(enums.CouponTriggerRestore)
	return nil
}

// Flush runs a pending revalidation now. It reports whether one was pending.
func (e *Engine) Flush() bool {
	return e.debouncer.Flush()
}

// Pending reports whether a revalidation is waiting for the debounce window.
func (e *Engine) Pending() bool {
	return e.debouncer.Pending()
}

// Close stops observing the cart and drops any pending revalidation.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.generation++
	e.mu.Unlock()
	e.unsubscribe()
	e.debouncer.Cancel()
}

func (e *Engine) onStateChange(snap cart.Snapshot) {
	subtotal := snap.Cart.Subtotal

	e.mu.Lock()
	if e.closed || subtotal.Equal(e.lastSubtotal) {
		e.mu.Unlock()
		return
	}
	e.lastSubtotal = subtotal
	hasIntent := e.markerCode != "" || snap.Coupon != nil
	trigger := enums.CouponTriggerSubtotalChange
	if e.pendingReapply {
		trigger = enums.CouponTriggerAuthTransition
		e.pendingReapply = false
	}
	code := e.markerCode
	e.mu.Unlock()

	if !hasIntent {
		return
	}
	if len(snap.Cart.Items) == 0 {
		if code == "" && snap.Coupon != nil {
			code = snap.Coupon.Coupon.Code
		}
		e.discard(e.logg.WithCouponCode(context.Background(), code), trigger, outcomeCartEmpty)
		return
	}
	e.schedule(trigger)
}

func (e *Engine) schedule(trigger enums.CouponTrigger) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.trigger = trigger
	e.mu.Unlock()
	e.debouncer.Arm(e.revalidate)
}

func (e *Engine) revalidate() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	code := e.markerCode
	authenticated := e.authenticated
	gen := e.generation
	trigger := e.trigger
	e.mu.Unlock()

	snap := e.state.Snapshot()
	if code == "" && snap.Coupon != nil {
		code = snap.Coupon.Coupon.Code
	}
	if code == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	ctx = e.logg.WithFields(ctx, map[string]any{"op": opRevalidate, "coupon_code": code, "trigger": trigger.String()})

	if len(snap.Cart.Items) == 0 {
		e.discard(ctx, trigger, outcomeCartEmpty)
		return
	}

	e.state.SetCouponState(enums.CouponStateRevalidating)
	applied, err := e.validate(ctx, code, snap.Cart.Subtotal, authenticated)
	if !e.isCurrent(gen) {
		e.settle(enums.CouponStateRevalidating)
		e.metrics.IncCouponValidation(trigger.String(), outcomeSuperseded)
		e.logg.Debug(ctx, "discarding superseded coupon revalidation")
		return
	}

	switch {
	case err == nil:
		e.adopt(ctx, code, applied)
		e.metrics.IncCouponValidation(trigger.String(), outcomeApplied)
		e.logg.Debug(ctx, "coupon revalidated")
		e.rescheduleIfMoved(snap.Cart.Subtotal)
	case qualificationFailure(err) || e.policy == enums.TransientPolicyRemove:
		e.discard(ctx, trigger, outcomeRemoved)
		e.logg.Warn(e.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "coupon no longer applies, removed")
	default:
		e.state.ClearCoupon()
		e.metrics.IncCouponValidation(trigger.String(), outcomeTransient)
		e.logg.Warn(e.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "coupon revalidation failed, keeping marker for replay")
	}
}

func (e *Engine) validate(ctx context.Context, code string, subtotal decimal.Decimal, authenticated bool) (*cart.AppliedCoupon, error) {
	applied, err := e.validator.ApplyCoupon(ctx, cart.ApplyCouponRequest{
		Code:          code,
		Subtotal:      subtotal,
		Authenticated: authenticated,
	})
	if err != nil {
		return nil, err
	}
	if applied == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "empty coupon response")
	}
	return applied, nil
}

// adopt records a successful validation in state and in the marker.
func (e *Engine) adopt(ctx context.Context, requested string, applied *cart.AppliedCoupon) {
	if applied.Coupon.Code == "" {
		applied.Coupon.Code = requested
	}
	code := applied.Coupon.Code
	e.state.SetCoupon(applied)

	e.mu.Lock()
	e.markerCode = code
	e.mu.Unlock()
	if err := e.marker.Save(ctx, code); err != nil {
		e.logg.Error(ctx, "failed to persist coupon marker", err)
	}
}

// forget clears the coupon after a manual failure.
func (e *Engine) forget(ctx context.Context) {
	e.mu.Lock()
	e.markerCode = ""
	e.mu.Unlock()
	e.state.ClearCoupon()
	if err := e.marker.Clear(ctx); err != nil {
		e.logg.Error(ctx, "failed to clear coupon marker", err)
	}
}

// discard silently removes the coupon and its marker.
func (e *Engine) discard(ctx context.Context, trigger enums.CouponTrigger, outcome string) {
	e.mu.Lock()
	e.markerCode = ""
	e.pendingReapply = false
	e.mu.Unlock()
	e.debouncer.Cancel()
	e.state.ClearCoupon()
	if err := e.marker.Clear(ctx); err != nil {
		e.logg.Error(ctx, "failed to clear coupon marker", err)
	}
	e.metrics.IncCouponValidation(trigger.String(), outcome)
}

// rescheduleIfMoved queues another revalidation when the subtotal changed
// while a validation was in flight.
func (e *Engine) rescheduleIfMoved(validated decimal.Decimal) {
	if current := e.state.Snapshot().Cart.Subtotal; !current.Equal(validated) {
		e.schedule(enums.CouponTriggerSubtotalChange)
	}
}

// settle moves an in-flight coupon state left behind by a superseded request
// back to the state the held coupon implies.
func (e *Engine) settle(inFlight enums.CouponState) {
	snap := e.state.Snapshot()
	if snap.CouponState != inFlight {
		return
	}
	if snap.Coupon != nil {
		e.state.SetCouponState(enums.CouponStateApplied)
		return
	}
	e.state.SetCouponState(enums.CouponStateNone)
}

func (e *Engine) isCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation && !e.closed
}

// qualificationFailure reports whether the backend rejected the coupon itself
// rather than failing to answer.
func qualificationFailure(err error) bool {
	code := pkgerrors.CodeOf(err)
	// An expired session says nothing about the coupon itself.
	if code == pkgerrors.CodeUnauthorized {
		return false
	}
	return !pkgerrors.MetadataFor(code).Retryable
}
