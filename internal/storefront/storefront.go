// Package storefront wires the shared cart state, the cart reconciliation
// engine, and the coupon revalidation engine behind one call surface. Every
// operation returns a types.Result so callers never handle raw errors.
package storefront

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/coupon"
	"github.com/angelmondragon/storefront-cart/internal/gateway"
	"github.com/angelmondragon/storefront-cart/pkg/auth/session"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/kv"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/angelmondragon/storefront-cart/pkg/money"
	"github.com/angelmondragon/storefront-cart/pkg/redis"
	"github.com/angelmondragon/storefront-cart/pkg/types"
	"go.uber.org/multierr"
)

// Backend is every remote operation the storefront issues.
type Backend interface {
	cart.Gateway
	coupon.Validator
	VerifyPayment(ctx context.Context, req gateway.VerifyPaymentRequest) (*gateway.PaymentVerification, error)
}

type Params struct {
	Logger          *logger.Logger
	Backend         Backend
	Store           kv.Store
	Session         *session.Manager
	Scope           string
	Clock           coupon.Clock
	CouponDebounce  time.Duration
	TransientPolicy enums.TransientPolicy
	CallTimeout     time.Duration
	Metrics         *metrics.CartMetrics
	Formatter       *money.Formatter
}

type Storefront struct {
	logg      *logger.Logger
	state     *cart.State
	carts     *cart.Engine
	coupons   *coupon.Engine
	session   *session.Manager
	backend   Backend
	formatter *money.Formatter
}

func New(params Params) (*Storefront, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("key-value store required")
	}
	if params.Session == nil {
		return nil, fmt.Errorf("session manager required")
	}
	scope := strings.TrimSpace(params.Scope)
	if scope == "" {
		scope = "default"
	}

	guest, err := cart.NewGuestStore(params.Store, redis.GuestCartKey(scope))
	if err != nil {
		return nil, err
	}
	marker, err := coupon.NewMarker(params.Store, redis.CouponMarkerKey(scope))
	if err != nil {
		return nil, err
	}

	state := cart.NewState()
	carts, err := cart.NewEngine(cart.EngineParams{
		Logger:       params.Logger,
		State:        state,
		Guest:        guest,
		Gateway:      params.Backend,
		Metrics:      params.Metrics,
		FetchTimeout: params.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("cart engine: %w", err)
	}
	coupons, err := coupon.NewEngine(coupon.EngineParams{
		Logger:          params.Logger,
		State:           state,
		Validator:       params.Backend,
		Marker:          marker,
		Clock:           params.Clock,
		Debounce:        params.CouponDebounce,
		TransientPolicy: params.TransientPolicy,
		CallTimeout:     params.CallTimeout,
		Metrics:         params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("coupon engine: %w", err)
	}

	return &Storefront{
		logg:      params.Logger,
		state:     state,
		carts:     carts,
		coupons:   coupons,
		session:   params.Session,
		backend:   params.Backend,
		formatter: params.Formatter,
	}, nil
}

func (s *Storefront) authenticated(ctx context.Context) bool {
	return s.session.Authenticated(ctx)
}

func (s *Storefront) current() types.Result[cart.Snapshot] {
	return types.OK(s.state.Snapshot())
}

// Mount loads the cart for the current session and replays a recorded coupon.
func (s *Storefront) Mount(ctx context.Context) types.Result[cart.Snapshot] {
	authenticated := s.authenticated(ctx)
	if err := s.coupons.SetAuthenticated(ctx, authenticated); err != nil {
		return types.Fail[cart.Snapshot](err)
	}

	var err error
	if authenticated {
		_, err = s.carts.FetchCart(ctx, "")
	} else {
		_, err = s.carts.LoadGuestCartIntoState(ctx)
	}
	if err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	if err := s.coupons.Restore(ctx); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

func (s *Storefront) AddItem(ctx context.Context, product cart.RawProduct, variant cart.RawVariant, qty int) types.Result[cart.Snapshot] {
	if _, err := s.carts.AddItem(ctx, product, variant, qty, s.authenticated(ctx)); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

func (s *Storefront) UpdateQty(ctx context.Context, itemID cart.ID, qty int) types.Result[cart.Snapshot] {
	if _, err := s.carts.UpdateQty(ctx, itemID, qty, s.authenticated(ctx)); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

func (s *Storefront) RemoveItem(ctx context.Context, itemID cart.ID) types.Result[cart.Snapshot] {
	if _, err := s.carts.RemoveItem(ctx, itemID, s.authenticated(ctx)); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

// FetchCart replaces state with the server cart. accessToken overrides the
// session token when set.
func (s *Storefront) FetchCart(ctx context.Context, accessToken string) types.Result[cart.Snapshot] {
	if strings.TrimSpace(accessToken) == "" && !s.authenticated(ctx) {
		return types.Fail[cart.Snapshot](pkgerrors.New(pkgerrors.CodeUnauthorized, "Please log in to view your saved cart."))
	}
	if _, err := s.carts.FetchCart(ctx, accessToken); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

func (s *Storefront) LoadGuestCartIntoState(ctx context.Context) types.Result[cart.Snapshot] {
	if _, err := s.carts.LoadGuestCartIntoState(ctx); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

// SyncGuestCartToServer merges the guest record into the session's server
// cart. It is a no-op without a session or a non-empty guest cart.
func (s *Storefront) SyncGuestCartToServer(ctx context.Context) types.Result[cart.Snapshot] {
	token := s.session.AccessToken(ctx)
	if _, err := s.carts.SyncGuestCartToServer(ctx, token != "", token); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

func (s *Storefront) ApplyCoupon(ctx context.Context, code string) types.Result[cart.AppliedCoupon] {
	applied, err := s.coupons.Apply(ctx, code)
	if err != nil {
		return types.Fail[cart.AppliedCoupon](err)
	}
	return types.OK(*applied)
}

func (s *Storefront) RemoveCoupon(ctx context.Context) types.Result[cart.Snapshot] {
	if err := s.coupons.Remove(ctx); err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	return s.current()
}

// Login stores the token, merges the guest cart into the user's server cart,
// and falls back to fetching the server cart when there was nothing to merge.
// A recorded coupon is re-applied once the authenticated subtotal lands.
func (s *Storefront) Login(ctx context.Context, accessToken string) types.Result[cart.Snapshot] {
	claims, err := s.session.Save(ctx, accessToken)
	if err != nil {
		return types.Fail[cart.Snapshot](pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "Your session is invalid or has expired. Please log in again."))
	}
	ctx = s.logg.WithUserID(ctx, claims.Subject)
	token := s.session.AccessToken(ctx)

	if err := s.coupons.SetAuthenticated(ctx, true); err != nil {
		s.logg.Warn(ctx, "coupon replay disabled for this login")
	}

	merged, err := s.carts.SyncGuestCartToServer(ctx, true, token)
	if err != nil {
		return types.Fail[cart.Snapshot](err)
	}
	if merged == nil {
		if _, err := s.carts.FetchCart(ctx, token); err != nil {
			return types.Fail[cart.Snapshot](err)
		}
	}
	s.logg.Info(ctx, "session started")
	return s.current()
}

// Logout ends the session and clears the guest cart and the coupon marker.
func (s *Storefront) Logout(ctx context.Context) types.Result[cart.Snapshot] {
	var errs error
	if err := s.session.Revoke(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("revoke session: %w", err))
	}
	errs = multierr.Append(errs, s.coupons.SetAuthenticated(ctx, false))
	errs = multierr.Append(errs, s.coupons.Remove(ctx))
	errs = multierr.Append(errs, s.carts.ClearGuestCart(ctx))
	if errs != nil {
		s.logg.Error(ctx, "logout incomplete", errs)
		return types.Fail[cart.Snapshot](pkgerrors.Wrap(pkgerrors.CodeInternal, errs, "logout incomplete"))
	}
	s.logg.Info(ctx, "session ended")
	return s.current()
}

// ClearCart empties the cart. Guest carts drop their record; authenticated
// carts remove each line on the server.
func (s *Storefront) ClearCart(ctx context.Context) types.Result[cart.Snapshot] {
	if !s.authenticated(ctx) {
		var errs error
		errs = multierr.Append(errs, s.coupons.Remove(ctx))
		errs = multierr.Append(errs, s.carts.ClearGuestCart(ctx))
		if errs != nil {
			return types.Fail[cart.Snapshot](pkgerrors.Wrap(pkgerrors.CodeInternal, errs, "clear cart"))
		}
		return s.current()
	}

	var errs error
	for _, item := range s.state.Snapshot().Cart.Items {
		if _, err := s.carts.RemoveItem(ctx, item.CartItemID, true); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		failures := multierr.Errors(errs)
		if len(failures) == 1 {
			return types.Fail[cart.Snapshot](failures[0])
		}
		return types.Fail[cart.Snapshot](pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "Some items could not be removed. Please try again."))
	}
	return s.current()
}

// VerifyPayment confirms a payment for the authenticated user.
func (s *Storefront) VerifyPayment(ctx context.Context, req gateway.VerifyPaymentRequest) types.Result[gateway.PaymentVerification] {
	if !s.authenticated(ctx) {
		return types.Fail[gateway.PaymentVerification](pkgerrors.New(pkgerrors.CodeUnauthorized, "Please log in to complete checkout."))
	}
	ctx = s.logg.WithField(ctx, "order_id", req.OrderID)
	verification, err := s.backend.VerifyPayment(ctx, req)
	if err != nil {
		s.logg.Error(ctx, "payment verification failed", err)
		return types.Fail[gateway.PaymentVerification](err)
	}
	s.logg.Info(s.logg.WithField(ctx, "payment_status", verification.Status), "payment verified")
	return types.OK(*verification)
}

// Snapshot returns the current cart and coupon state.
func (s *Storefront) Snapshot() cart.Snapshot {
	return s.state.Snapshot()
}

// Totals returns the formatted amounts of the current state.
func (s *Storefront) Totals() cart.DisplayTotals {
	return s.state.Snapshot().Display(s.formatter)
}

func (s *Storefront) Subscribe(fn cart.Listener) func() {
	return s.state.Subscribe(fn)
}

// Settle runs a pending coupon revalidation now instead of waiting out the
// debounce window.
func (s *Storefront) Settle() bool {
	return s.coupons.Flush()
}

func (s *Storefront) Close() {
	s.coupons.Close()
}
