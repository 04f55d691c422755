package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/marketplace/internal/ledger"
	"github.com/xtrntr/marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Migrate applies the schema in sql
func (db *DB) Migrate(ctx context.Context, sql string) error {
	if _, err := db.Pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// OpenAccount creates an empty account if it does not exist yet
func (db *DB) OpenAccount(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, "INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", id)
	if err != nil {
		return fmt.Errorf("failed to open account: %w", err)
	}
	return nil
}

// Deposit credits amount to an existing account
func (db *DB) Deposit(ctx context.Context, id string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("deposit must not be negative")
	}
	tag, err := db.Pool.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", amount, id)
	if err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %q not found", id)
	}
	return nil
}

// SetFrozen toggles whether an account refuses incoming payments
func (db *DB) SetFrozen(ctx context.Context, id string, frozen bool) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE accounts SET frozen = $1 WHERE id = $2", frozen, id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %q not found", id)
	}
	return nil
}

// GetAccount retrieves an account by id
func (db *DB) GetAccount(ctx context.Context, id string) (models.Account, error) {
	var acct models.Account
	err := db.Pool.QueryRow(ctx,
		"SELECT id, balance, frozen FROM accounts WHERE id = $1", id).Scan(&acct.ID, &acct.Balance, &acct.Frozen)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// MintAsset registers a new asset owned by owner
func (db *DB) MintAsset(ctx context.Context, assetID int64, owner string) error {
	_, err := db.Pool.Exec(ctx, "INSERT INTO assets (id, owner) VALUES ($1, $2)", assetID, owner)
	if err != nil {
		return fmt.Errorf("failed to mint asset: %w", err)
	}
	return nil
}

// GetAssetOwner returns the committed owner of an asset
func (db *DB) GetAssetOwner(ctx context.Context, assetID int64) (string, error) {
	var owner string
	err := db.Pool.QueryRow(ctx, "SELECT owner FROM assets WHERE id = $1", assetID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("asset %d: %w", assetID, ledger.ErrUnknownAsset)
		}
		return "", fmt.Errorf("failed to get asset: %w", err)
	}
	return owner, nil
}

const saleColumns = "id::text, asset_id, seller, buyer, price, fee, proceeds, tendered, refund, remainder, executed_at"

func scanSales(rows pgx.Rows) ([]models.Sale, error) {
	defer rows.Close()

	var sales []models.Sale
	for rows.Next() {
		var s models.Sale
		if err := rows.Scan(&s.ID, &s.AssetID, &s.Seller, &s.Buyer, &s.Price, &s.Fee,
			&s.Proceeds, &s.Tendered, &s.Refund, &s.Remainder, &s.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sales: %w", err)
	}
	return sales, nil
}

// GetUserSales retrieves every sale where username bought or sold
func (db *DB) GetUserSales(ctx context.Context, username string) ([]models.Sale, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+saleColumns+" FROM sales WHERE buyer = $1 OR seller = $1 ORDER BY executed_at ASC",
		username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user sales: %w", err)
	}
	return scanSales(rows)
}

// GetAllSales retrieves every recorded sale
func (db *DB) GetAllSales(ctx context.Context) ([]models.Sale, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+saleColumns+" FROM sales ORDER BY executed_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to get sales: %w", err)
	}
	return scanSales(rows)
}

// LoadState reads the persisted registry slots, asset index and fee rate
func (db *DB) LoadState(ctx context.Context) (ledger.State, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT position, asset_id, seller, price, active
		FROM listing_slots
		ORDER BY position ASC
	`)
	if err != nil {
		return ledger.State{}, fmt.Errorf("failed to load listing slots: %w", err)
	}
	defer rows.Close()

	var st ledger.State
	for rows.Next() {
		var pos int
		var l models.Listing
		if err := rows.Scan(&pos, &l.AssetID, &l.Seller, &l.Price, &l.Active); err != nil {
			return ledger.State{}, fmt.Errorf("failed to scan listing slot: %w", err)
		}
		if pos != len(st.Slots) {
			return ledger.State{}, fmt.Errorf("listing slots not contiguous at position %d", pos)
		}
		st.Slots = append(st.Slots, l)
	}
	if err := rows.Err(); err != nil {
		return ledger.State{}, fmt.Errorf("failed to read listing slots: %w", err)
	}

	rows, err = db.Pool.Query(ctx, "SELECT asset_id, position FROM asset_index")
	if err != nil {
		return ledger.State{}, fmt.Errorf("failed to load asset index: %w", err)
	}
	defer rows.Close()

	st.Index = make(map[int64]int)
	for rows.Next() {
		var assetID int64
		var pos int
		if err := rows.Scan(&assetID, &pos); err != nil {
			return ledger.State{}, fmt.Errorf("failed to scan asset index: %w", err)
		}
		st.Index[assetID] = pos
	}
	if err := rows.Err(); err != nil {
		return ledger.State{}, fmt.Errorf("failed to read asset index: %w", err)
	}

	err = db.Pool.QueryRow(ctx, "SELECT fee_rate FROM registry_settings WHERE id").Scan(&st.FeeRate)
	switch {
	case err == nil:
		st.HasFeeRate = true
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return ledger.State{}, fmt.Errorf("failed to load fee rate: %w", err)
	}
	return st, nil
}
