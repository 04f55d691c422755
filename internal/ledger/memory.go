package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/xtrntr/marketplace/internal/models"
)

// Memory is an in-process Ledger. An open Tx holds the ledger lock until it
// commits or rolls back, so transactions are serialized.
//
// The helper methods (Mint, Deposit, Balance, ...) take the same lock and
// must not be called from a goroutine holding an open Tx.
type Memory struct {
	mu       sync.Mutex
	owners   map[int64]string
	balances map[string]int64
	frozen   map[string]bool
	locked   map[int64]bool
	slots    []models.Listing
	index    map[int64]int
	feeRate  *int64
	sales    []models.Sale
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		owners:   make(map[int64]string),
		balances: make(map[string]int64),
		frozen:   make(map[string]bool),
		locked:   make(map[int64]bool),
		index:    make(map[int64]int),
	}
}

// Mint assigns a new asset to owner
func (m *Memory) Mint(assetID int64, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.owners[assetID]; exists {
		return fmt.Errorf("asset %d already minted", assetID)
	}
	m.owners[assetID] = owner
	return nil
}

// Deposit credits amount to account, creating it if needed
func (m *Memory) Deposit(account string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

// OpenAccount creates an empty account if it does not exist yet
func (m *Memory) OpenAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[id]; !ok {
		m.balances[id] = 0
	}
	return nil
}

// Freeze makes account refuse incoming payments
func (m *Memory) Freeze(account string, frozen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen[account] = frozen
}

// Lock makes every transfer of assetID fail
func (m *Memory) Lock(assetID int64, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[assetID] = locked
}

// Balance returns the committed balance of account
func (m *Memory) Balance(account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

// Owner returns the committed owner of assetID
func (m *Memory) Owner(assetID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[assetID]
}

// GetAccount returns a snapshot of account
func (m *Memory) GetAccount(ctx context.Context, id string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %q not found", id)
	}
	return models.Account{ID: id, Balance: balance, Frozen: m.frozen[id]}, nil
}

// GetUserSales returns every committed sale where username bought or sold
func (m *Memory) GetUserSales(ctx context.Context, username string) ([]models.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sales []models.Sale
	for _, s := range m.sales {
		if s.Buyer == username || s.Seller == username {
			sales = append(sales, s)
		}
	}
	return sales, nil
}

// LoadState returns the committed registry slots and fee rate
func (m *Memory) LoadState(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		Slots: append([]models.Listing(nil), m.slots...),
		Index: make(map[int64]int, len(m.index)),
	}
	for assetID, pos := range m.index {
		st.Index[assetID] = pos
	}
	if m.feeRate != nil {
		st.FeeRate = *m.feeRate
		st.HasFeeRate = true
	}
	return st, nil
}

// Begin opens a transaction, blocking while another one is open
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	return &memTx{m: m}, nil
}

type memTx struct {
	m    *Memory
	undo []func()
	done bool
}

func (tx *memTx) check() error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	return nil
}

func (tx *memTx) OwnerOf(ctx context.Context, assetID int64) (string, error) {
	if err := tx.check(); err != nil {
		return "", err
	}
	owner, ok := tx.m.owners[assetID]
	if !ok {
		return "", fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
	}
	return owner, nil
}

func (tx *memTx) TransferAsset(ctx context.Context, from, to string, assetID int64) error {
	if err := tx.check(); err != nil {
		return err
	}
	owner, ok := tx.m.owners[assetID]
	if !ok || owner != from {
		return fmt.Errorf("asset %d not owned by %q: %w", assetID, from, ErrTransferFailed)
	}
	if tx.m.locked[assetID] {
		return fmt.Errorf("asset %d is locked: %w", assetID, ErrTransferFailed)
	}

	tx.m.owners[assetID] = to
	tx.undo = append(tx.undo, func() { tx.m.owners[assetID] = owner })
	return nil
}

func (tx *memTx) Pay(ctx context.Context, from, to string, amount int64) error {
	if err := tx.check(); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("negative amount %d: %w", amount, ErrPaymentFailed)
	}
	fromBalance, ok := tx.m.balances[from]
	if !ok {
		return fmt.Errorf("unknown payer %q: %w", from, ErrPaymentFailed)
	}
	if fromBalance < amount {
		return fmt.Errorf("insufficient funds in %q: %w", from, ErrPaymentFailed)
	}
	if _, ok := tx.m.balances[to]; !ok {
		return fmt.Errorf("unknown recipient %q: %w", to, ErrPaymentFailed)
	}
	if tx.m.frozen[to] {
		return fmt.Errorf("recipient %q refuses payments: %w", to, ErrPaymentFailed)
	}

	tx.m.balances[from] -= amount
	tx.m.balances[to] += amount
	tx.undo = append(tx.undo, func() {
		tx.m.balances[to] -= amount
		tx.m.balances[from] += amount
	})
	return nil
}

func (tx *memTx) SaveSlot(ctx context.Context, position int, listing models.Listing) error {
	if err := tx.check(); err != nil {
		return err
	}
	switch {
	case position == len(tx.m.slots):
		tx.m.slots = append(tx.m.slots, listing)
		tx.undo = append(tx.undo, func() { tx.m.slots = tx.m.slots[:position] })
	case position >= 0 && position < len(tx.m.slots):
		prev := tx.m.slots[position]
		tx.m.slots[position] = listing
		tx.undo = append(tx.undo, func() { tx.m.slots[position] = prev })
	default:
		return fmt.Errorf("slot position %d out of range", position)
	}
	return nil
}

func (tx *memTx) SaveIndex(ctx context.Context, assetID int64, position int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if position < 0 || position >= len(tx.m.slots) {
		return fmt.Errorf("index position %d out of range", position)
	}
	tx.setIndex(assetID, position, true)
	return nil
}

func (tx *memTx) DeleteIndex(ctx context.Context, assetID int64) error {
	if err := tx.check(); err != nil {
		return err
	}
	tx.setIndex(assetID, 0, false)
	return nil
}

func (tx *memTx) setIndex(assetID int64, position int, present bool) {
	prev, had := tx.m.index[assetID]
	if present {
		tx.m.index[assetID] = position
	} else {
		delete(tx.m.index, assetID)
	}
	tx.undo = append(tx.undo, func() {
		if had {
			tx.m.index[assetID] = prev
		} else {
			delete(tx.m.index, assetID)
		}
	})
}

func (tx *memTx) SaveFeeRate(ctx context.Context, rate int64) error {
	if err := tx.check(); err != nil {
		return err
	}
	prev := tx.m.feeRate
	tx.m.feeRate = &rate
	tx.undo = append(tx.undo, func() { tx.m.feeRate = prev })
	return nil
}

func (tx *memTx) RecordSale(ctx context.Context, sale models.Sale) error {
	if err := tx.check(); err != nil {
		return err
	}
	n := len(tx.m.sales)
	tx.m.sales = append(tx.m.sales, sale)
	tx.undo = append(tx.undo, func() { tx.m.sales = tx.m.sales[:n] })
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if err := tx.check(); err != nil {
		return err
	}
	tx.done = true
	tx.undo = nil
	tx.m.mu.Unlock()
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.done = true
	tx.undo = nil
	tx.m.mu.Unlock()
	return nil
}
