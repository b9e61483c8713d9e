// Package gatewaytest runs an in-process fake of the cart backend for tests.
package gatewaytest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/pkg/money"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

// Variant is a purchasable catalog entry known to the fake.
type Variant struct {
	ID        cart.ID
	ProductID cart.ID
	Name      string
	Size      string
	Color     string
	Price     decimal.Decimal
	SalePrice decimal.Decimal
}

// Coupon is a code the fake accepts.
type Coupon struct {
	Code         string
	ID           string
	PercentOff   decimal.Decimal
	AmountOff    decimal.Decimal
	MinSpend     decimal.Decimal
	FreeShipping bool
	ShippingCost decimal.Decimal
}

// Failure is returned for the next call to a path instead of the real answer.
type Failure struct {
	Status  int
	Message string
}

// Call records one request received by the fake.
type Call struct {
	Method string
	Path   string
	Token  string
	Body   []byte
}

type Server struct {
	URL string

	srv *httptest.Server

	mu       sync.Mutex
	users    map[string]string
	carts    map[string]*cart.Cart
	variants map[cart.ID]Variant
	coupons  map[string]Coupon
	failures map[string][]Failure
	calls    []Call
	nextLine int
}

func NewServer() *Server {
	s := &Server{
		users:    map[string]string{},
		carts:    map[string]*cart.Cart{},
		variants: map[cart.ID]Variant{},
		coupons:  map[string]Coupon{},
		failures: map[string][]Failure{},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.injectFailures)

	r.Post("/apply-coupon", s.handleApplyCoupon)
	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/get-cart", s.handleGetCart)
		r.Post("/add-to-cart", s.handleAddToCart)
		r.Put("/update-cart-item", s.handleUpdateItem)
		r.Put("/remove-cart-item", s.handleRemoveItem)
		r.Post("/sync-cart", s.handleSyncCart)
		r.Post("/verify-payment", s.handleVerifyPayment)
	})

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	return s
}

func (s *Server) Close() {
	s.srv.Close()
}

// AddUser registers a bearer token for userID.
func (s *Server) AddUser(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = userID
}

func (s *Server) AddVariant(v Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

func (s *Server) AddCoupon(c Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[strings.ToUpper(c.Code)] = c
}

// Fail queues a failure for the next call to path.
func (s *Server) Fail(path string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.Trim(path, "/")
	s.failures[key] = append(s.failures[key], f)
}

// Calls returns the recorded requests to path, or every request when path is empty.
func (s *Server) Calls(path string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.Trim(path, "/")
	var out []Call
	for _, c := range s.calls {
		if key == "" || c.Path == key {
			out = append(out, c)
		}
	}
	return out
}

// Cart returns a copy of the server cart for userID.
func (s *Server) Cart(userID string) cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartLocked(userID).Clone()
}

func (s *Server) cartLocked(userID string) *cart.Cart {
	c, ok := s.carts[userID]
	if !ok {
		uid := userID
		fresh := cart.Cart{CartID: "srv-cart-" + userID, UserID: &uid, Items: []cart.CartItem{}}
		fresh.Totals = cart.RecomputeTotals(nil)
		s.carts[userID] = &fresh
		c = &fresh
	}
	return c
}

func (s *Server) lineID() cart.ID {
	s.nextLine++
	return cart.ID(fmt.Sprintf("%d", 1000+s.nextLine))
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method: r.Method,
			Path:   strings.Trim(r.URL.Path, "/"),
			Token:  bearer(r),
			Body:   body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.Trim(r.URL.Path, "/")
		s.mu.Lock()
		queue := s.failures[key]
		var failure *Failure
		if len(queue) > 0 {
			failure = &queue[0]
			s.failures[key] = queue[1:]
		}
		s.mu.Unlock()
		if failure != nil {
			writeFailure(w, failure.Status, failure.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		userID, ok := s.users[bearer(r)]
		s.mu.Unlock()
		if !ok {
			writeFailure(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		r.Header.Set("X-Test-User", userID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.cartLocked(userOf(r)))
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req cart.AddItemRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Qty < 1 {
		writeFailure(w, http.StatusBadRequest, "qty must be at least 1")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[req.VariantID]
	if !ok {
		writeFailure(w, http.StatusNotFound, "Variant not found")
		return
	}
	c := s.cartLocked(userOf(r))
	s.mergeLocked(c, s.lineFor(v, req.Qty))
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req cart.UpdateItemRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Qty < 1 {
		writeFailure(w, http.StatusBadRequest, "qty must be at least 1")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartLocked(userOf(r))
	idx, ok := c.FindItem(req.ItemID)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Item not found")
		return
	}
	c.Items[idx].Qty = req.Qty
	c.Items[idx].LineTotal = money.LineTotal(c.Items[idx].SalePrice, req.Qty)
	recompute(c)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	var req cart.RemoveItemRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartLocked(userOf(r))
	idx, ok := c.FindItem(req.ItemID)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Item not found")
		return
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	recompute(c)
	writeJSON(w, http.StatusOK, c)
}

// handleSyncCart merges a guest cart into the user's cart. Lines of known
// variants are repriced from the catalog.
func (s *Server) handleSyncCart(w http.ResponseWriter, r *http.Request) {
	var guest cart.Cart
	if !decode(w, r, &guest) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartLocked(userOf(r))
	for _, item := range guest.Items {
		line := item
		if v, ok := s.variants[item.VariantID.ID]; ok {
			line = s.lineFor(v, item.Qty)
		} else {
			line.CartItemID = s.lineID()
		}
		s.mergeLocked(c, line)
	}
	writeJSON(w, http.StatusOK, c)
}

type applyCouponBody struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func (s *Server) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponBody
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	coupon, ok := s.coupons[strings.ToUpper(strings.TrimSpace(req.Code))]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Invalid coupon code"})
		return
	}
	if req.Subtotal.LessThan(coupon.MinSpend) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Minimum spend not met"})
		return
	}

	discount := coupon.AmountOff
	if coupon.PercentOff.IsPositive() {
		discount = req.Subtotal.Mul(coupon.PercentOff).Div(decimal.NewFromInt(100)).Round(2)
	}
	if discount.GreaterThan(req.Subtotal) {
		discount = req.Subtotal
	}
	shipping := coupon.ShippingCost
	if coupon.FreeShipping {
		shipping = decimal.Zero
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"coupon":            map[string]any{"code": coupon.Code, "id": coupon.ID},
		"discount":          discount,
		"applied_on_amount": req.Subtotal,
		"free_shipping":     coupon.FreeShipping,
		"subtotal":          req.Subtotal,
		"shipping_cost":     shipping,
		"final_total":       req.Subtotal.Sub(discount).Add(shipping),
	})
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID          string `json:"order_id"`
		PaymentReference string `json:"payment_reference"`
		Provider         string `json:"provider"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.PaymentReference == "" {
		writeFailure(w, http.StatusBadRequest, "payment reference is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"order_id": req.OrderID,
		"status":   "paid",
		"message":  "Payment verified",
	})
}

func (s *Server) lineFor(v Variant, qty int) cart.CartItem {
	sale := v.SalePrice
	if sale.IsZero() {
		sale = v.Price
	}
	return cart.CartItem{
		CartItemID:      s.lineID(),
		VariantID:       cart.VariantID{ID: v.ID, Size: v.Size, Color: v.Color},
		Product:         cart.ProductRef{ID: v.ProductID, Name: v.Name},
		Qty:             qty,
		VariantPrice:    v.Price,
		SalePrice:       sale,
		DiscountPercent: decimal.Zero,
		LineTotal:       money.LineTotal(sale, qty),
	}
}

// mergeLocked folds line into c, adding to an existing line of the same variant.
func (s *Server) mergeLocked(c *cart.Cart, line cart.CartItem) {
	for i := range c.Items {
		if c.Items[i].VariantID.Key() == line.VariantID.Key() {
			qty := c.Items[i].Qty + line.Qty
			c.Items[i].Qty = qty
			c.Items[i].LineTotal = money.LineTotal(c.Items[i].SalePrice, qty)
			recompute(c)
			return
		}
	}
	c.Items = append(c.Items, line)
	recompute(c)
}

func recompute(c *cart.Cart) {
	c.Totals = cart.RecomputeTotals(c.Items)
}

func userOf(r *http.Request) string {
	return r.Header.Get("X-Test-User")
}

func bearer(r *http.Request) string {
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
