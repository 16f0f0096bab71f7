package prime

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/payout"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWithdrawalAPI struct {
	created   []WalletWithdrawal
	createErr error
	txs       []WalletTransaction
}

func (f *fakeWithdrawalAPI) CreateWithdrawal(_ context.Context, w WalletWithdrawal) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, w)
	return "activity-1", nil
}

func (f *fakeWithdrawalAPI) RecentWithdrawals(_ context.Context, _, _ string, _ time.Time) ([]WalletTransaction, error) {
	return f.txs, nil
}

func newTestProvider(t *testing.T, api *fakeWithdrawalAPI) *PayoutProvider {
	t.Helper()
	p, err := NewPayoutProvider(api, PayoutProviderConfig{
		PortfolioId: "portfolio-1",
		WalletId:    "wallet-1",
		Asset:       "USDC-base-mainnet",
	})
	require.NoError(t, err)
	return p
}

func TestNewPayoutProvider_RequiresWallet(t *testing.T) {
	_, err := NewPayoutProvider(&fakeWithdrawalAPI{}, PayoutProviderConfig{PortfolioId: "p"})
	require.Error(t, err)
}

func TestCreateTransfer(t *testing.T) {
	api := &fakeWithdrawalAPI{}
	p := newTestProvider(t, api)

	transferId, err := p.CreateTransfer(context.Background(), payout.TransferRequest{
		Amount:         decimal.RequireFromString("98.00"),
		Destination:    "0xabc",
		Currency:       "USD",
		IdempotencyKey: "withdrawal-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "withdrawal-1", transferId)

	require.Len(t, api.created, 1)
	assert.Equal(t, "98", api.created[0].Amount)
	assert.Equal(t, "USDC-base-mainnet", api.created[0].Asset)
	assert.Equal(t, "wallet-1", api.created[0].WalletId)
	assert.Equal(t, "0xabc", api.created[0].Address)
}

func TestCreateTransfer_Errors(t *testing.T) {
	api := &fakeWithdrawalAPI{createErr: errors.New("insufficient wallet balance")}
	p := newTestProvider(t, api)

	_, err := p.CreateTransfer(context.Background(), payout.TransferRequest{Amount: decimal.NewFromInt(5), IdempotencyKey: "w"})
	require.Error(t, err)

	_, err = p.CreateTransfer(context.Background(), payout.TransferRequest{Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
}

func TestTransferStatus(t *testing.T) {
	done := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeWithdrawalAPI{txs: []WalletTransaction{
		{Id: "tx-1", IdempotencyKey: "w-done", Status: "TRANSACTION_DONE", CompletedAt: done},
		{Id: "tx-2", IdempotencyKey: "w-rejected", Status: "TRANSACTION_REJECTED"},
		{Id: "tx-3", IdempotencyKey: "w-broadcast", Status: "TRANSACTION_BROADCASTING"},
	}}
	p := newTestProvider(t, api)

	tests := []struct {
		transferId string
		state      models.TransferState
	}{
		{"w-done", models.TransferCompleted},
		{"w-rejected", models.TransferFailed},
		{"w-broadcast", models.TransferPending},
		{"w-unknown", models.TransferPending},
		{"tx-1", models.TransferCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.transferId, func(t *testing.T) {
			status, err := p.TransferStatus(context.Background(), tt.transferId)
			require.NoError(t, err)
			assert.Equal(t, tt.state, status.State)
		})
	}

	status, err := p.TransferStatus(context.Background(), "w-done")
	require.NoError(t, err)
	assert.True(t, status.CompletedAt.Equal(done))

	status, err = p.TransferStatus(context.Background(), "w-rejected")
	require.NoError(t, err)
	assert.Contains(t, status.Reason, "TRANSACTION_REJECTED")
}

func TestSplitAsset(t *testing.T) {
	symbol, networkId, networkType := splitAsset("USDC-base-mainnet")
	assert.Equal(t, "USDC", symbol)
	assert.Equal(t, "base", networkId)
	assert.Equal(t, "mainnet", networkType)

	symbol, networkId, _ = splitAsset("USDC")
	assert.Equal(t, "USDC", symbol)
	assert.Empty(t, networkId)
}

func TestTransferState(t *testing.T) {
	assert.Equal(t, models.TransferCompleted, transferState("TRANSACTION_DONE"))
	for _, s := range []string{"TRANSACTION_CANCELLED", "TRANSACTION_REJECTED", "TRANSACTION_FAILED", "TRANSACTION_EXPIRED"} {
		assert.Equal(t, models.TransferFailed, transferState(s), s)
	}
	assert.Equal(t, models.TransferPending, transferState("TRANSACTION_CREATED"))
}
