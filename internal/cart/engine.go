package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/auth"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

const (
	OpAddItem       = "add_item"
	OpUpdateQty     = "update_qty"
	OpRemoveItem    = "remove_item"
	OpFetchCart     = "fetch_cart"
	OpLoadGuest     = "load_guest_cart"
	OpSyncGuest     = "sync_guest_cart"
	OpClearGuest    = "clear_guest_cart"
	OpDiscardSynced = "discard_synced_guest"

	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
	outcomeSkipped  = "skipped"
	outcomeEmptied  = "emptied"

	defaultFetchTimeout = 10 * time.Second
)

// Gateway is the backend surface the engine needs for authenticated carts.
type Gateway interface {
	GetCart(ctx context.Context, req GetCartRequest) (*Cart, error)
	AddItem(ctx context.Context, req AddItemRequest) (*Cart, error)
	UpdateItem(ctx context.Context, req UpdateItemRequest) (*Cart, error)
	RemoveItem(ctx context.Context, req RemoveItemRequest) (*Cart, error)
	SyncCart(ctx context.Context, req SyncCartRequest) (*Cart, error)
}

// GuestRecords persists the guest cart.
type GuestRecords interface {
	Load(ctx context.Context) (*Cart, bool, error)
	LoadOrCreate(ctx context.Context) (*Cart, error)
	Save(ctx context.Context, record *Cart) error
	Delete(ctx context.Context) error
}

type EngineParams struct {
	Logger    *logger.Logger
	State     *State
	Guest     GuestRecords
	Gateway   Gateway
	Metrics   *metrics.CartMetrics
	NewItemID func() string

	// FetchTimeout bounds a shared cart fetch, which outlives any single
	// caller's context.
	FetchTimeout time.Duration
}

// Engine routes cart mutations to the local guest record or the backend
// depending on whether the user is authenticated.
type Engine struct {
	logg      *logger.Logger
	state     *State
	guest     GuestRecords
	gateway   Gateway
	metrics   *metrics.CartMetrics
	newItemID func() string
	fetches   singleflight.Group
	fetchTTL  time.Duration
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.State == nil {
		return nil, fmt.Errorf("cart state required")
	}
	if params.Guest == nil {
		return nil, fmt.Errorf("guest cart store required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("cart gateway required")
	}
	newItemID := params.NewItemID
	if newItemID == nil {
		newItemID = func() string { return uuid.NewString() }
	}
	fetchTTL := params.FetchTimeout
	if fetchTTL <= 0 {
		fetchTTL = defaultFetchTimeout
	}
	return &Engine{
		logg:      params.Logger,
		state:     params.State,
		guest:     params.Guest,
		gateway:   params.Gateway,
		metrics:   params.Metrics,
		newItemID: newItemID,
		fetchTTL:  fetchTTL,
	}, nil
}

// ModeFor selects the execution strategy for the session.
func ModeFor(authenticated bool) enums.ExecutionMode {
	if authenticated {
		return enums.ExecutionModeServerAuthoritative
	}
	return enums.ExecutionModeLocal
}

// ErrItemNotFound reports a mutation on a line the cart does not hold.
func ErrItemNotFound(id ID) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "Item not found").
		WithDetails(map[string]any{"cart_item_id": id.String()})
}

// mutation describes one cart operation under both strategies.
type mutation struct {
	op     string
	itemID ID
	local  func(c *Cart) error
	remote func(ctx context.Context) (*Cart, error)
}

// AddItem adds a normalized line. Guests get a fresh cart_item_id; the
// backend assigns its own for authenticated carts.
func (e *Engine) AddItem(ctx context.Context, product RawProduct, variant RawVariant, qty int, authenticated bool) (*Cart, error) {
	mode := ModeFor(authenticated)
	item, err := NewCartItem(product, variant, qty)
	if err != nil {
		e.metrics.IncMutation(OpAddItem, mode.String(), outcomeRejected)
		return nil, err
	}
	if authenticated && item.VariantID.ID == "" {
		e.metrics.IncMutation(OpAddItem, mode.String(), outcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"variant_id": "is required"})
	}

	return e.execute(ctx, mode, mutation{
		op: OpAddItem,
		local: func(c *Cart) error {
			item.CartItemID = ID(e.newItemID())
			c.Items = append(c.Items, item)
			return nil
		},
		remote: func(ctx context.Context) (*Cart, error) {
			return e.gateway.AddItem(ctx, AddItemRequest{VariantID: item.VariantID.ID, Qty: qty})
		},
	})
}

// UpdateQty sets the quantity of an existing line.
func (e *Engine) UpdateQty(ctx context.Context, itemID ID, qty int, authenticated bool) (*Cart, error) {
	mode := ModeFor(authenticated)
	if qty < 1 {
		e.metrics.IncMutation(OpUpdateQty, mode.String(), outcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"qty": "must be at least 1"})
	}
	return e.execute(ctx, mode, mutation{
		op:     OpUpdateQty,
		itemID: itemID,
		local: func(c *Cart) error {
			idx, _ := c.FindItem(itemID)
			setQty(&c.Items[idx], qty)
			return nil
		},
		remote: func(ctx context.Context) (*Cart, error) {
			return e.gateway.UpdateItem(ctx, UpdateItemRequest{ItemID: itemID, Qty: qty})
		},
	})
}

// RemoveItem drops a line.
func (e *Engine) RemoveItem(ctx context.Context, itemID ID, authenticated bool) (*Cart, error) {
	return e.execute(ctx, ModeFor(authenticated), mutation{
		op:     OpRemoveItem,
		itemID: itemID,
		local: func(c *Cart) error {
			idx, _ := c.FindItem(itemID)
			c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			return nil
		},
		remote: func(ctx context.Context) (*Cart, error) {
			return e.gateway.RemoveItem(ctx, RemoveItemRequest{ItemID: itemID})
		},
	})
}

func (e *Engine) execute(ctx context.Context, mode enums.ExecutionMode, m mutation) (*Cart, error) {
	ctx = e.logg.WithFields(ctx, map[string]any{"op": m.op, "mode": mode.String()})

	var (
		out *Cart
		err error
	)
	switch mode {
	case enums.ExecutionModeLocal:
		out, err = e.applyLocal(ctx, m)
	case enums.ExecutionModeServerAuthoritative:
		out, err = e.applyRemote(ctx, m)
	default:
		err = pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unsupported execution mode %q", mode))
	}

	e.metrics.IncMutation(m.op, mode.String(), outcomeFor(err))
	return out, err
}

// applyLocal mutates a copy of the guest record, persists it, then publishes
// it. Nothing is published when persistence fails.
func (e *Engine) applyLocal(ctx context.Context, m mutation) (*Cart, error) {
	record, err := e.guest.LoadOrCreate(ctx)
	if err != nil {
		e.logg.Error(ctx, "failed to load guest cart", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load guest cart")
	}
	if m.itemID != "" {
		if _, ok := record.FindItem(m.itemID); !ok {
			return nil, ErrItemNotFound(m.itemID)
		}
	}

	working := record.Clone()
	if err := m.local(&working); err != nil {
		return nil, err
	}
	working.Totals = RecomputeTotals(working.Items)

	if err := e.guest.Save(ctx, &working); err != nil {
		e.logg.Error(e.logg.WithCartID(ctx, working.CartID), "failed to persist guest cart", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist guest cart")
	}
	e.state.ReplaceCart(working)
	return &working, nil
}

// applyRemote sends the mutation to the backend and adopts the returned cart
// wholesale. Local state is untouched on failure.
func (e *Engine) applyRemote(ctx context.Context, m mutation) (*Cart, error) {
	if m.itemID != "" && !e.state.HasItem(m.itemID) {
		return nil, ErrItemNotFound(m.itemID)
	}
	seq := e.state.NextSeq()
	serverCart, err := m.remote(ctx)
	if err != nil {
		e.logg.Error(ctx, "cart mutation failed", err)
		return nil, err
	}
	return e.commitServerCart(ctx, seq, serverCart)
}

func (e *Engine) commitServerCart(ctx context.Context, seq uint64, serverCart *Cart) (*Cart, error) {
	if serverCart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "empty cart response")
	}
	if !e.state.ApplyServerCart(seq, *serverCart) {
		e.metrics.IncStaleResponse()
		e.logg.Warn(e.logg.WithField(ctx, "seq", seq), "discarding out-of-order cart response")
	}
	current := e.state.Snapshot().Cart
	return &current, nil
}

// FetchCart loads the server cart into state. Concurrent calls share one
// request. An empty accessToken uses the ambient session credentials.
func (e *Engine) FetchCart(ctx context.Context, accessToken string) (*Cart, error) {
	ctx = e.logg.WithOperation(ctx, OpFetchCart)
	mode := enums.ExecutionModeServerAuthoritative.String()

	value, err, shared := e.fetches.Do(OpFetchCart, func() (any, error) {
		// Coalesced callers wait on this call, so the first caller's
		// cancellation must not fail theirs.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.fetchTTL)
		defer cancel()
		seq := e.state.NextSeq()
		serverCart, err := e.gateway.GetCart(fetchCtx, GetCartRequest{AccessToken: accessToken})
		if err != nil {
			return nil, err
		}
		return e.commitServerCart(ctx, seq, serverCart)
	})
	if shared {
		e.metrics.IncCoalescedFetch()
	}
	e.metrics.IncMutation(OpFetchCart, mode, outcomeFor(err))
	if err != nil {
		e.logg.Error(ctx, "fetch cart failed", err)
		return nil, err
	}
	out := value.(*Cart).Clone()
	return &out, nil
}

// LoadGuestCartIntoState publishes the persisted guest cart, or an empty one.
// Totals are recomputed so a stale record never shows drifted amounts.
func (e *Engine) LoadGuestCartIntoState(ctx context.Context) (*Cart, error) {
	ctx = e.logg.WithOperation(ctx, OpLoadGuest)
	mode := enums.ExecutionModeLocal.String()

	record, err := e.guest.LoadOrCreate(ctx)
	if err != nil {
		e.metrics.IncMutation(OpLoadGuest, mode, outcomeFailed)
		e.logg.Error(ctx, "failed to load guest cart", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load guest cart")
	}
	record.Totals = RecomputeTotals(record.Items)
	e.state.ReplaceCart(*record)
	e.metrics.IncMutation(OpLoadGuest, mode, outcomeOK)
	return record, nil
}

// SyncGuestCartToServer uploads the guest record for merging into the user's
// server cart. It returns a nil cart when there was nothing to sync. The
// guest record is deleted only after the backend accepts it.
func (e *Engine) SyncGuestCartToServer(ctx context.Context, authenticated bool, accessToken string) (*Cart, error) {
	ctx = e.logg.WithOperation(ctx, OpSyncGuest)
	mode := enums.ExecutionModeServerAuthoritative.String()

	if !authenticated {
		e.metrics.IncMutation(OpSyncGuest, mode, outcomeSkipped)
		e.logg.Debug(ctx, "skipping guest cart sync for anonymous session")
		return nil, nil
	}
	record, found, err := e.guest.Load(ctx)
	if err != nil {
		e.metrics.IncMutation(OpSyncGuest, mode, outcomeFailed)
		e.logg.Error(ctx, "failed to load guest cart", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load guest cart")
	}
	if !found || len(record.Items) == 0 {
		e.metrics.IncMutation(OpSyncGuest, mode, outcomeSkipped)
		return nil, nil
	}
	if accessToken == "" {
		e.metrics.IncMutation(OpSyncGuest, mode, outcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token is required")
	}

	ctx = e.logg.WithCartID(ctx, record.CartID)
	if claims, err := auth.PeekClaims(accessToken); err == nil {
		ctx = e.logg.WithUserID(ctx, claims.Subject)
	}

	seq := e.state.NextSeq()
	merged, err := e.gateway.SyncCart(ctx, SyncCartRequest{AccessToken: accessToken, Cart: *record})
	if err != nil {
		e.metrics.IncMutation(OpSyncGuest, mode, outcomeFailed)
		e.logg.Error(ctx, "guest cart sync failed, keeping local record", err)
		return nil, err
	}
	e.discardSynced(ctx, record)
	e.metrics.IncMutation(OpSyncGuest, mode, outcomeOK)
	e.logg.Info(ctx, "guest cart merged into server cart")
	return e.commitServerCart(ctx, seq, merged)
}

// discardSynced removes a guest record the backend already merged. The
// delete is retried once; if it still fails the record is overwritten with
// an empty cart, which later syncs skip, so lines are never merged twice.
func (e *Engine) discardSynced(ctx context.Context, record *Cart) {
	mode := enums.ExecutionModeLocal.String()
	err := e.guest.Delete(ctx)
	if err != nil {
		e.logg.Warn(ctx, "retrying delete of synced guest cart")
		err = e.guest.Delete(ctx)
	}
	if err == nil {
		e.metrics.IncMutation(OpDiscardSynced, mode, outcomeOK)
		return
	}

	emptied := NewGuestCart(record.CartID)
	if saveErr := e.guest.Save(ctx, &emptied); saveErr != nil {
		e.metrics.IncMutation(OpDiscardSynced, mode, outcomeFailed)
		e.logg.Error(ctx, "synced guest cart could not be retired, a later sync may merge it again", multierr.Append(err, saveErr))
		return
	}
	e.metrics.IncMutation(OpDiscardSynced, mode, outcomeEmptied)
	e.logg.Error(ctx, "failed to delete synced guest cart, emptied it instead", err)
}

// ClearGuestCart deletes the guest record and empties the shared state.
func (e *Engine) ClearGuestCart(ctx context.Context) error {
	ctx = e.logg.WithOperation(ctx, OpClearGuest)
	err := e.guest.Delete(ctx)
	e.state.Reset()
	e.metrics.IncMutation(OpClearGuest, enums.ExecutionModeLocal.String(), outcomeFor(err))
	if err != nil {
		e.logg.Error(ctx, "failed to clear guest cart", err)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear guest cart")
	}
	return nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation), pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return outcomeRejected
	default:
		return outcomeFailed
	}
}
