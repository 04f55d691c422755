// Package ledger defines the transactional backend the marketplace settles
// against: asset ownership, account balances and the persisted registry slots.
//
// Every mutation happens inside a Tx. Nothing a Tx did is observable unless
// Commit returns nil.
package ledger

import (
	"context"
	"errors"

	"github.com/xtrntr/marketplace/internal/models"
)

var (
	// ErrTransferFailed is returned when an asset cannot change hands.
	ErrTransferFailed = errors.New("asset transfer failed")
	// ErrPaymentFailed is returned when value cannot be moved to a recipient.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrUnknownAsset is returned by OwnerOf for assets that were never minted.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Ledger opens all-or-nothing settlement scopes.
type Ledger interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one settlement scope. Rollback after Commit is a no-op, so callers
// may always defer Rollback.
type Tx interface {
	// OwnerOf reports the current owner of an asset.
	OwnerOf(ctx context.Context, assetID int64) (string, error)
	// TransferAsset moves an asset from one identity to another.
	TransferAsset(ctx context.Context, from, to string, assetID int64) error
	// Pay moves amount from one account to another.
	Pay(ctx context.Context, from, to string, amount int64) error

	// SaveSlot writes the listing at position, appending when position equals the slot count.
	SaveSlot(ctx context.Context, position int, listing models.Listing) error
	// SaveIndex makes position the reachable slot for assetID; DeleteIndex
	// leaves assetID with no reachable slot.
	SaveIndex(ctx context.Context, assetID int64, position int) error
	DeleteIndex(ctx context.Context, assetID int64) error
	SaveFeeRate(ctx context.Context, rate int64) error
	RecordSale(ctx context.Context, sale models.Sale) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// State is the persisted registry state used to rebuild a registry at startup.
// Slots not named by Index are unreachable even when they hold an active listing.
type State struct {
	Slots      []models.Listing
	Index      map[int64]int
	FeeRate    int64
	HasFeeRate bool
}

// StateLoader reads back what committed transactions persisted.
type StateLoader interface {
	LoadState(ctx context.Context) (State, error)
}
