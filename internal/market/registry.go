// Package market implements the listing registry: escrowed listings of
// non-fungible assets and their settlement against a ledger.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/marketplace/internal/ledger"
	"github.com/xtrntr/marketplace/internal/models"
)

// Operation names carried on events and log records
const (
	OpList       = "list"
	OpModify     = "modify"
	OpCancel     = "cancel"
	OpBuy        = "buy"
	OpSetFeeRate = "set_fee_rate"
)

// Event describes one committed registry operation. Listing is the listing
// the operation acted on, as it was before a cancel or buy cleared it.
type Event struct {
	Op       string
	Position int
	Listing  models.Listing
	Sale     *models.Sale
	FeeRate  int64
}

// Config holds the identities and the starting fee rate of a registry
type Config struct {
	Administrator string
	Escrow        string // Account holding listed assets and in-flight payments
	FeeRate       int64
}

// Option customizes a Registry
type Option func(*Registry)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithObserver registers fn to run after every committed operation.
// fn runs without the registry lock held and may read the registry.
func WithObserver(fn func(Event)) Option {
	return func(r *Registry) { r.observers = append(r.observers, fn) }
}

// WithClock overrides the time source used to stamp sales
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry tracks listings and settles purchases. Each state-changing
// operation runs under one lock and one ledger transaction; in-memory state
// changes only after the transaction commits.
type Registry struct {
	mu      sync.RWMutex
	ledger  ledger.Ledger
	admin   string
	escrow  string
	feeRate int64

	// slots is append-only; retired listings are zeroed in place.
	slots []models.Listing
	// index maps an asset to the position of its reachable listing.
	index map[int64]int

	logger    *slog.Logger
	observers []func(Event)
	now       func() time.Time
}

// NewRegistry creates an empty registry settling against l
func NewRegistry(l ledger.Ledger, cfg Config, opts ...Option) (*Registry, error) {
	if cfg.FeeRate < 0 || cfg.FeeRate > 100 {
		return nil, fmt.Errorf("failed to create registry: %w", ErrInvalidRate)
	}
	if cfg.Administrator == "" || cfg.Escrow == "" {
		return nil, fmt.Errorf("failed to create registry: administrator and escrow are required")
	}

	r := &Registry{
		ledger:  l,
		admin:   cfg.Administrator,
		escrow:  cfg.Escrow,
		feeRate: cfg.FeeRate,
		index:   make(map[int64]int),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Restore replaces the registry state with persisted slots and index. An
// active slot the index does not name stays unreachable.
func (r *Registry) Restore(st ledger.State) error {
	if st.HasFeeRate && (st.FeeRate < 0 || st.FeeRate > 100) {
		return fmt.Errorf("failed to restore registry: %w", ErrInvalidRate)
	}
	index := make(map[int64]int, len(st.Index))
	for assetID, pos := range st.Index {
		if pos < 0 || pos >= len(st.Slots) {
			return fmt.Errorf("failed to restore registry: asset %d indexed at missing position %d", assetID, pos)
		}
		if l := st.Slots[pos]; !l.Active || l.AssetID != assetID {
			return fmt.Errorf("failed to restore registry: asset %d indexed at position %d holding %+v", assetID, pos, l)
		}
		index[assetID] = pos
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots = append([]models.Listing(nil), st.Slots...)
	r.index = index
	if st.HasFeeRate {
		r.feeRate = st.FeeRate
	}
	return nil
}

// List escrows assetID from caller and offers it at price
func (r *Registry) List(ctx context.Context, caller string, assetID, price int64) (models.Slot, error) {
	slot, err := r.list(ctx, caller, assetID, price)
	if err != nil {
		r.reject(OpList, caller, assetID, err)
		return models.Slot{}, err
	}
	r.commit(Event{Op: OpList, Position: slot.Position, Listing: slot.Listing}, caller)
	return slot, nil
}

func (r *Registry) list(ctx context.Context, caller string, assetID, price int64) (models.Slot, error) {
	if price < 0 {
		return models.Slot{}, ErrInvalidPrice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.ledger.Begin(ctx)
	if err != nil {
		return models.Slot{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	owner, err := tx.OwnerOf(ctx, assetID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownAsset) {
			return models.Slot{}, fmt.Errorf("asset %d: %w", assetID, ErrNotOwner)
		}
		return models.Slot{}, fmt.Errorf("failed to look up owner: %w", err)
	}
	if owner != caller {
		return models.Slot{}, fmt.Errorf("asset %d: %w", assetID, ErrNotOwner)
	}

	// A second listing of the same asset is not rejected: it takes a new slot
	// and the index moves to it, leaving the old slot unreachable.
	pos := len(r.slots)
	listing := models.Listing{AssetID: assetID, Seller: caller, Price: price, Active: true}
	if err := tx.SaveSlot(ctx, pos, listing); err != nil {
		return models.Slot{}, fmt.Errorf("failed to save listing: %w", err)
	}
	if err := tx.SaveIndex(ctx, assetID, pos); err != nil {
		return models.Slot{}, fmt.Errorf("failed to index listing: %w", err)
	}
	if err := tx.TransferAsset(ctx, caller, r.escrow, assetID); err != nil {
		return models.Slot{}, fmt.Errorf("failed to escrow asset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Slot{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.slots = append(r.slots, listing)
	r.index[assetID] = pos
	return models.Slot{Position: pos, Listing: listing}, nil
}

// Modify changes the price of caller's listing for assetID
func (r *Registry) Modify(ctx context.Context, caller string, assetID, newPrice int64) (models.Slot, error) {
	slot, err := r.modify(ctx, caller, assetID, newPrice)
	if err != nil {
		r.reject(OpModify, caller, assetID, err)
		return models.Slot{}, err
	}
	r.commit(Event{Op: OpModify, Position: slot.Position, Listing: slot.Listing}, caller)
	return slot, nil
}

func (r *Registry) modify(ctx context.Context, caller string, assetID, newPrice int64) (models.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, listing, err := r.sellerListing(caller, assetID)
	if err != nil {
		return models.Slot{}, err
	}
	if newPrice < 0 {
		return models.Slot{}, ErrInvalidPrice
	}

	tx, err := r.ledger.Begin(ctx)
	if err != nil {
		return models.Slot{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	listing.Price = newPrice
	if err := tx.SaveSlot(ctx, pos, listing); err != nil {
		return models.Slot{}, fmt.Errorf("failed to save listing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Slot{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.slots[pos] = listing
	return models.Slot{Position: pos, Listing: listing}, nil
}

// Cancel retires caller's listing for assetID and returns the asset to them
func (r *Registry) Cancel(ctx context.Context, caller string, assetID int64) error {
	pos, listing, err := r.cancel(ctx, caller, assetID)
	if err != nil {
		r.reject(OpCancel, caller, assetID, err)
		return err
	}
	r.commit(Event{Op: OpCancel, Position: pos, Listing: listing}, caller)
	return nil
}

func (r *Registry) cancel(ctx context.Context, caller string, assetID int64) (int, models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, listing, err := r.sellerListing(caller, assetID)
	if err != nil {
		return 0, models.Listing{}, err
	}

	tx, err := r.ledger.Begin(ctx)
	if err != nil {
		return 0, models.Listing{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SaveSlot(ctx, pos, models.Listing{}); err != nil {
		return 0, models.Listing{}, fmt.Errorf("failed to clear listing: %w", err)
	}
	if err := tx.DeleteIndex(ctx, assetID); err != nil {
		return 0, models.Listing{}, fmt.Errorf("failed to unindex listing: %w", err)
	}
	if err := tx.TransferAsset(ctx, r.escrow, listing.Seller, assetID); err != nil {
		return 0, models.Listing{}, fmt.Errorf("failed to return asset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, models.Listing{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.retire(pos, assetID)
	return pos, listing, nil
}

// Buy settles the listing for assetID. The buyer pays tendered into escrow;
// escrow pays the seller's proceeds and the administrator's fee, refunds
// tendered-price to the buyer and hands the asset over. Rounding remainder
// stays in escrow.
func (r *Registry) Buy(ctx context.Context, buyer string, assetID, tendered int64) (models.Sale, error) {
	pos, sale, err := r.buy(ctx, buyer, assetID, tendered)
	if err != nil {
		r.reject(OpBuy, buyer, assetID, err)
		return models.Sale{}, err
	}
	sold := models.Listing{AssetID: sale.AssetID, Seller: sale.Seller, Price: sale.Price, Active: true}
	r.commit(Event{Op: OpBuy, Position: pos, Listing: sold, Sale: &sale}, buyer)
	return sale, nil
}

func (r *Registry) buy(ctx context.Context, buyer string, assetID, tendered int64) (int, models.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.index[assetID]
	if !ok {
		return 0, models.Sale{}, fmt.Errorf("asset %d: %w", assetID, ErrNoSuchListing)
	}
	listing := r.slots[pos]
	if !listing.Active {
		return 0, models.Sale{}, fmt.Errorf("asset %d: %w", assetID, ErrListingInactive)
	}
	if tendered < listing.Price {
		return 0, models.Sale{}, fmt.Errorf("tendered %d for price %d: %w", tendered, listing.Price, ErrInsufficientPayment)
	}

	fee, proceeds, remainder := SplitFee(listing.Price, r.feeRate)
	sale := models.Sale{
		ID:         uuid.NewString(),
		AssetID:    assetID,
		Seller:     listing.Seller,
		Buyer:      buyer,
		Price:      listing.Price,
		Fee:        fee,
		Proceeds:   proceeds,
		Tendered:   tendered,
		Refund:     tendered - listing.Price,
		Remainder:  remainder,
		ExecutedAt: r.now().UTC(),
	}

	tx, err := r.ledger.Begin(ctx)
	if err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.Pay(ctx, buyer, r.escrow, tendered); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to collect payment: %w", err)
	}
	if err := tx.Pay(ctx, r.escrow, listing.Seller, proceeds); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to pay seller: %w", err)
	}
	if err := tx.Pay(ctx, r.escrow, r.admin, fee); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to pay fee: %w", err)
	}
	if sale.Refund > 0 {
		if err := tx.Pay(ctx, r.escrow, buyer, sale.Refund); err != nil {
			return 0, models.Sale{}, fmt.Errorf("failed to refund buyer: %w", err)
		}
	}
	if err := tx.TransferAsset(ctx, r.escrow, buyer, assetID); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to deliver asset: %w", err)
	}
	if err := tx.SaveSlot(ctx, pos, models.Listing{}); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to clear listing: %w", err)
	}
	if err := tx.DeleteIndex(ctx, assetID); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to unindex listing: %w", err)
	}
	if err := tx.RecordSale(ctx, sale); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to record sale: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, models.Sale{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.retire(pos, assetID)
	return pos, sale, nil
}

// SetFeeRate changes the fee rate; only the administrator may call it
func (r *Registry) SetFeeRate(ctx context.Context, caller string, rate int64) error {
	if err := r.setFeeRate(ctx, caller, rate); err != nil {
		r.reject(OpSetFeeRate, caller, 0, err)
		return err
	}
	r.commit(Event{Op: OpSetFeeRate, FeeRate: rate}, caller)
	return nil
}

func (r *Registry) setFeeRate(ctx context.Context, caller string, rate int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.admin {
		return ErrUnauthorized
	}
	if rate < 0 || rate > 100 {
		return fmt.Errorf("rate %d: %w", rate, ErrInvalidRate)
	}

	tx, err := r.ledger.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SaveFeeRate(ctx, rate); err != nil {
		return fmt.Errorf("failed to save fee rate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.feeRate = rate
	return nil
}

// FeeRate returns the current fee percentage
func (r *Registry) FeeRate() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeRate
}

// Administrator returns the identity allowed to change the fee rate
func (r *Registry) Administrator() string {
	return r.admin
}

// Escrow returns the account that holds listed assets
func (r *Registry) Escrow() string {
	return r.escrow
}

// ListingCount returns the number of slots ever allocated, live or cleared
func (r *Registry) ListingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// ListingAt returns the listing at position. Cleared slots come back as the
// zero Listing; callers must check Active.
func (r *Registry) ListingAt(position int) (models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if position < 0 || position >= len(r.slots) {
		return models.Listing{}, fmt.Errorf("position %d: %w", position, ErrIndexOutOfRange)
	}
	return r.slots[position], nil
}

// Lookup returns the reachable listing for assetID
func (r *Registry) Lookup(assetID int64) (models.Slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.index[assetID]
	if !ok {
		return models.Slot{}, false
	}
	return models.Slot{Position: pos, Listing: r.slots[pos]}, true
}

// ActiveListings returns every reachable listing ordered by position
func (r *Registry) ActiveListings() []models.Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	book := make([]models.Slot, 0, len(r.index))
	for _, pos := range r.index {
		book = append(book, models.Slot{Position: pos, Listing: r.slots[pos]})
	}
	sort.Slice(book, func(i, j int) bool {
		return book[i].Position < book[j].Position
	})
	return book
}

// sellerListing locates the reachable listing for assetID and checks that
// caller is its seller. Callers hold r.mu.
func (r *Registry) sellerListing(caller string, assetID int64) (int, models.Listing, error) {
	pos, ok := r.index[assetID]
	if !ok {
		return 0, models.Listing{}, fmt.Errorf("asset %d: %w", assetID, ErrNoSuchListing)
	}
	listing := r.slots[pos]
	if listing.Seller != caller {
		return 0, models.Listing{}, fmt.Errorf("asset %d: %w", assetID, ErrNotSeller)
	}
	return pos, listing, nil
}

// retire clears a slot and drops its index entry together. Callers hold r.mu.
func (r *Registry) retire(pos int, assetID int64) {
	r.slots[pos] = models.Listing{}
	delete(r.index, assetID)
}

func (r *Registry) commit(ev Event, caller string) {
	r.logger.Info("registry operation committed",
		"op", ev.Op,
		"caller", caller,
		"position", ev.Position,
		"asset_id", ev.Listing.AssetID,
	)
	for _, fn := range r.observers {
		fn(ev)
	}
}

func (r *Registry) reject(op, caller string, assetID int64, err error) {
	r.logger.Debug("registry operation rejected",
		"op", op,
		"caller", caller,
		"asset_id", assetID,
		"code", string(CodeOf(err)),
		"error", err,
	)
}
