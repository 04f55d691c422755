package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/marketplace/internal/models"
)

func newFunded(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.Deposit("alice", 1000)
	m.Deposit("bob", 500)
	require.NoError(t, m.Mint(1, "alice"))
	return m
}

func TestMemory_Mint(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(1, "alice"))
	assert.Error(t, m.Mint(1, "bob"))
	assert.Equal(t, "alice", m.Owner(1))
}

func TestMemory_TransferAsset(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		from      string
		assetID   int64
		lock      bool
		expectErr error
	}{
		{name: "Success", from: "alice", assetID: 1},
		{name: "NotOwner", from: "bob", assetID: 1, expectErr: ErrTransferFailed},
		{name: "UnknownAsset", from: "alice", assetID: 99, expectErr: ErrTransferFailed},
		{name: "Locked", from: "alice", assetID: 1, lock: true, expectErr: ErrTransferFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFunded(t)
			m.Lock(1, tt.lock)

			tx, err := m.Begin(ctx)
			require.NoError(t, err)
			err = tx.TransferAsset(ctx, tt.from, "bob", tt.assetID)
			if tt.expectErr != nil {
				assert.True(t, errors.Is(err, tt.expectErr), "got %v", err)
				require.NoError(t, tx.Rollback(ctx))
				assert.Equal(t, "alice", m.Owner(1))
				return
			}
			require.NoError(t, err)
			require.NoError(t, tx.Commit(ctx))
			assert.Equal(t, "bob", m.Owner(1))
		})
	}
}

func TestMemory_Pay(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		from, to  string
		amount    int64
		freezeTo  bool
		expectErr bool
	}{
		{name: "Success", from: "alice", to: "bob", amount: 300},
		{name: "ZeroAmount", from: "alice", to: "bob", amount: 0},
		{name: "InsufficientFunds", from: "bob", to: "alice", amount: 501, expectErr: true},
		{name: "NegativeAmount", from: "alice", to: "bob", amount: -1, expectErr: true},
		{name: "UnknownRecipient", from: "alice", to: "carol", amount: 1, expectErr: true},
		{name: "UnknownPayer", from: "carol", to: "alice", amount: 1, expectErr: true},
		{name: "FrozenRecipient", from: "alice", to: "bob", amount: 1, freezeTo: true, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFunded(t)
			m.Freeze(tt.to, tt.freezeTo)

			tx, err := m.Begin(ctx)
			require.NoError(t, err)
			defer tx.Rollback(ctx)

			err = tx.Pay(ctx, tt.from, tt.to, tt.amount)
			if tt.expectErr {
				assert.ErrorIs(t, err, ErrPaymentFailed)
				return
			}
			require.NoError(t, err)
			require.NoError(t, tx.Commit(ctx))
			assert.Equal(t, 1000-tt.amount, m.Balance("alice"))
			assert.Equal(t, 500+tt.amount, m.Balance("bob"))
		})
	}
}

func TestMemory_RollbackRestoresEverything(t *testing.T) {
	ctx := context.Background()
	m := newFunded(t)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Pay(ctx, "bob", "alice", 200))
	require.NoError(t, tx.TransferAsset(ctx, "alice", "bob", 1))
	require.NoError(t, tx.SaveSlot(ctx, 0, models.Listing{AssetID: 1, Seller: "alice", Price: 10, Active: true}))
	require.NoError(t, tx.SaveSlot(ctx, 0, models.Listing{}))
	require.NoError(t, tx.SaveFeeRate(ctx, 7))
	require.NoError(t, tx.RecordSale(ctx, models.Sale{ID: "s1", Buyer: "bob", Seller: "alice"}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, int64(1000), m.Balance("alice"))
	assert.Equal(t, int64(500), m.Balance("bob"))
	assert.Equal(t, "alice", m.Owner(1))

	st, err := m.LoadState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Slots)
	assert.False(t, st.HasFeeRate)

	sales, err := m.GetUserSales(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestMemory_CommitThenRollbackIsNoop(t *testing.T) {
	ctx := context.Background()
	m := newFunded(t)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Pay(ctx, "alice", "bob", 100))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, int64(900), m.Balance("alice"))
	assert.Error(t, tx.Pay(ctx, "alice", "bob", 1))
}

func TestMemory_SaveSlot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveSlot(ctx, 0, models.Listing{AssetID: 1, Active: true}))
	require.NoError(t, tx.SaveSlot(ctx, 1, models.Listing{AssetID: 2, Active: true}))
	require.NoError(t, tx.SaveSlot(ctx, 0, models.Listing{}))
	assert.Error(t, tx.SaveSlot(ctx, 5, models.Listing{}))
	require.NoError(t, tx.SaveFeeRate(ctx, 3))
	require.NoError(t, tx.Commit(ctx))

	st, err := m.LoadState(ctx)
	require.NoError(t, err)
	require.Len(t, st.Slots, 2)
	assert.Equal(t, models.Listing{}, st.Slots[0])
	assert.Equal(t, int64(2), st.Slots[1].AssetID)
	assert.True(t, st.HasFeeRate)
	assert.Equal(t, int64(3), st.FeeRate)
}

func TestMemory_BeginCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_GetAccount(t *testing.T) {
	m := newFunded(t)
	m.Freeze("bob", true)

	acct, err := m.GetAccount(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, models.Account{ID: "bob", Balance: 500, Frozen: true}, acct)

	_, err = m.GetAccount(context.Background(), "nobody")
	assert.Error(t, err)
}

func TestMemory_CommittedStateIsReadable(t *testing.T) {
	ctx := context.Background()
	m := newFunded(t)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	listing := models.Listing{AssetID: 1, Seller: "alice", Price: 10, Active: true}
	require.NoError(t, tx.SaveSlot(ctx, 0, listing))
	require.NoError(t, tx.SaveFeeRate(ctx, 7))
	require.NoError(t, tx.RecordSale(ctx, models.Sale{ID: "s1", AssetID: 1, Seller: "alice", Buyer: "bob", Price: 10}))
	require.NoError(t, tx.Commit(ctx))

	st, err := m.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Listing{listing}, st.Slots)
	assert.True(t, st.HasFeeRate)
	assert.Equal(t, int64(7), st.FeeRate)

	for _, user := range []string{"alice", "bob"} {
		sales, err := m.GetUserSales(ctx, user)
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, "s1", sales[0].ID)
	}
	sales, err := m.GetUserSales(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestMemory_Index(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.Error(t, tx.SaveIndex(ctx, 1, 0), "index must name an existing slot")
	require.NoError(t, tx.SaveSlot(ctx, 0, models.Listing{AssetID: 1, Active: true}))
	require.NoError(t, tx.SaveSlot(ctx, 1, models.Listing{AssetID: 1, Active: true}))
	require.NoError(t, tx.SaveIndex(ctx, 1, 0))
	require.NoError(t, tx.SaveIndex(ctx, 1, 1))
	require.NoError(t, tx.Commit(ctx))

	st, err := m.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{1: 1}, st.Index)

	// A rolled back delete keeps the entry
	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteIndex(ctx, 1))
	require.NoError(t, tx.Rollback(ctx))
	st, err = m.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{1: 1}, st.Index)

	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteIndex(ctx, 1))
	require.NoError(t, tx.Commit(ctx))
	st, err = m.LoadState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Index)
}
