package cart

import (
	"sync"

	"github.com/angelmondragon/storefront-cart/pkg/enums"
	"github.com/angelmondragon/storefront-cart/pkg/money"
	"github.com/shopspring/decimal"
)

// Snapshot is an immutable copy of the shared cart state.
type Snapshot struct {
	Cart        Cart              `json:"cart"`
	Coupon      *AppliedCoupon    `json:"coupon,omitempty"`
	CouponState enums.CouponState `json:"coupon_state"`
}

// Discount is the coupon discount, or zero without a coupon.
func (s Snapshot) Discount() decimal.Decimal {
	if s.Coupon == nil {
		return decimal.Zero
	}
	return s.Coupon.Discount
}

// Payable is the amount due, never below zero. A coupon's final total is
// authoritative; the discount is subtracted only when the backend sent none.
func (s Snapshot) Payable() decimal.Decimal {
	if s.Coupon == nil {
		return s.Cart.TotalPayable
	}
	if s.Coupon.FinalTotal.Valid {
		return money.NonNegative(s.Coupon.FinalTotal.Decimal)
	}
	return money.NonNegative(s.Cart.TotalPayable.Sub(s.Coupon.Discount))
}

// DisplayTotals is the formatted summary shown next to the cart.
type DisplayTotals struct {
	Subtotal   string `json:"subtotal"`
	Discount   string `json:"discount"`
	Payable    string `json:"payable"`
	TotalItems int    `json:"total_items"`
	CouponCode string `json:"coupon_code,omitempty"`
}

// Display formats the snapshot amounts. A nil formatter renders plain decimals.
func (s Snapshot) Display(f *money.Formatter) DisplayTotals {
	out := DisplayTotals{
		Subtotal:   f.Format(s.Cart.Subtotal),
		Discount:   f.Format(s.Discount()),
		Payable:    f.Format(s.Payable()),
		TotalItems: s.Cart.TotalItems,
	}
	if s.Coupon != nil {
		out.CouponCode = s.Coupon.Coupon.Code
	}
	return out
}

// Listener observes state after each change. It runs on the mutating
// goroutine, after the state lock is released.
type Listener func(Snapshot)

// State is the in-memory cart and coupon state shared by every consumer.
// Server responses carry a sequence number issued before the request; a
// response older than the last applied one is discarded.
type State struct {
	mu          sync.Mutex
	cart        Cart
	coupon      *AppliedCoupon
	couponState enums.CouponState
	seq         uint64
	appliedSeq  uint64
	listeners   map[uint64]Listener
	nextID      uint64
}

func NewState() *State {
	return &State{
		cart:        Cart{Items: []CartItem{}},
		couponState: enums.CouponStateNone,
		listeners:   map[uint64]Listener{},
	}
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Cart:        s.cart.Clone(),
		Coupon:      s.coupon.Clone(),
		CouponState: s.couponState,
	}
}

// NextSeq reserves a sequence number for a server request about to be issued.
func (s *State) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// ReplaceCart installs a locally computed cart. It supersedes every server
// response still in flight.
func (s *State) ReplaceCart(c Cart) {
	s.update(func() bool {
		s.seq++
		s.appliedSeq = s.seq
		s.cart = c.Clone()
		return true
	})
}

// ApplyServerCart installs a server cart issued under seq. It reports false
// when a newer response was already applied.
func (s *State) ApplyServerCart(seq uint64, c Cart) bool {
	return s.update(func() bool {
		if seq <= s.appliedSeq {
			return false
		}
		s.appliedSeq = seq
		s.cart = c.Clone()
		if s.cart.Items == nil {
			s.cart.Items = []CartItem{}
		}
		return true
	})
}

// HasItem reports whether the current cart holds a line with id.
func (s *State) HasItem(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cart.FindItem(id)
	return ok
}

// SetCoupon records an applied coupon.
func (s *State) SetCoupon(c *AppliedCoupon) {
	s.update(func() bool {
		s.coupon = c.Clone()
		s.couponState = enums.CouponStateApplied
		return true
	})
}

// ClearCoupon drops the applied coupon.
func (s *State) ClearCoupon() {
	s.update(func() bool {
		if s.coupon == nil && s.couponState == enums.CouponStateNone {
			return false
		}
		s.coupon = nil
		s.couponState = enums.CouponStateNone
		return true
	})
}

func (s *State) SetCouponState(state enums.CouponState) {
	s.update(func() bool {
		if s.couponState == state {
			return false
		}
		s.couponState = state
		return true
	})
}

// Reset empties the cart and coupon and discards every in-flight response.
func (s *State) Reset() {
	s.update(func() bool {
		s.seq++
		s.appliedSeq = s.seq
		s.cart = Cart{Items: []CartItem{}}
		s.coupon = nil
		s.couponState = enums.CouponStateNone
		return true
	})
}

// Subscribe registers fn for change notifications and returns its cancel func.
func (s *State) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// update applies mutate under the lock and, when it reports a change,
// notifies listeners with the resulting snapshot.
func (s *State) update(mutate func() bool) bool {
	s.mu.Lock()
	if !mutate() {
		s.mu.Unlock()
		return false
	}
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return true
}
