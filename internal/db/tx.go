package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/marketplace/internal/ledger"
	"github.com/xtrntr/marketplace/internal/models"

	"github.com/jackc/pgx/v5"
)

// Tx runs one registry operation inside a single PostgreSQL transaction
type Tx struct {
	tx pgx.Tx
}

// Begin opens a settlement transaction
func (db *DB) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// OwnerOf reads and locks the asset row
func (t *Tx) OwnerOf(ctx context.Context, assetID int64) (string, error) {
	var owner string
	err := t.tx.QueryRow(ctx, "SELECT owner FROM assets WHERE id = $1 FOR UPDATE", assetID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("asset %d: %w", assetID, ledger.ErrUnknownAsset)
		}
		return "", fmt.Errorf("failed to get asset owner: %w", err)
	}
	return owner, nil
}

// TransferAsset moves an unlocked asset away from its current owner
func (t *Tx) TransferAsset(ctx context.Context, from, to string, assetID int64) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE assets SET owner = $1 WHERE id = $2 AND owner = $3 AND NOT locked",
		to, assetID, from)
	if err != nil {
		return fmt.Errorf("failed to transfer asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %d not transferable from %q: %w", assetID, from, ledger.ErrTransferFailed)
	}
	return nil
}

// Pay debits from and credits to; frozen or unknown recipients refuse payment
func (t *Tx) Pay(ctx context.Context, from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative amount %d: %w", amount, ledger.ErrPaymentFailed)
	}

	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1",
		amount, from)
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insufficient funds in %q: %w", from, ledger.ErrPaymentFailed)
	}

	tag, err = t.tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2 AND NOT frozen",
		amount, to)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipient %q cannot accept payment: %w", to, ledger.ErrPaymentFailed)
	}
	return nil
}

// SaveSlot writes the listing stored at position
func (t *Tx) SaveSlot(ctx context.Context, position int, listing models.Listing) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO listing_slots (position, asset_id, seller, price, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (position) DO UPDATE
		SET asset_id = EXCLUDED.asset_id, seller = EXCLUDED.seller,
		    price = EXCLUDED.price, active = EXCLUDED.active
	`, position, listing.AssetID, listing.Seller, listing.Price, listing.Active)
	if err != nil {
		return fmt.Errorf("failed to save listing slot: %w", err)
	}
	return nil
}

// SaveIndex points assetID at the slot stored at position
func (t *Tx) SaveIndex(ctx context.Context, assetID int64, position int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO asset_index (asset_id, position) VALUES ($1, $2)
		ON CONFLICT (asset_id) DO UPDATE SET position = EXCLUDED.position
	`, assetID, position)
	if err != nil {
		return fmt.Errorf("failed to save asset index: %w", err)
	}
	return nil
}

// DeleteIndex drops the index entry for assetID
func (t *Tx) DeleteIndex(ctx context.Context, assetID int64) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM asset_index WHERE asset_id = $1", assetID); err != nil {
		return fmt.Errorf("failed to delete asset index: %w", err)
	}
	return nil
}

// SaveFeeRate persists the registry fee rate
func (t *Tx) SaveFeeRate(ctx context.Context, rate int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO registry_settings (id, fee_rate) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET fee_rate = EXCLUDED.fee_rate
	`, rate)
	if err != nil {
		return fmt.Errorf("failed to save fee rate: %w", err)
	}
	return nil
}

// RecordSale inserts a completed sale
func (t *Tx) RecordSale(ctx context.Context, s models.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales (id, asset_id, seller, buyer, price, fee, proceeds, tendered, refund, remainder, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID, s.AssetID, s.Seller, s.Buyer, s.Price, s.Fee, s.Proceeds, s.Tendered, s.Refund, s.Remainder, s.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}
	return nil
}

// Commit commits the transaction
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction; it is a no-op after Commit
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}
