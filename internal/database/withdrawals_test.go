package database

import (
	"context"
	"testing"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) newWithdrawal(amount, key string) *models.Withdrawal {
	return &models.Withdrawal{
		FreelancerId:   f.freelancer.Id,
		Amount:         decimal.RequireFromString(amount),
		ProcessingFee:  decimal.Zero,
		FinalAmount:    decimal.RequireFromString(amount),
		Currency:       "USD",
		Method:         "bank_transfer",
		Destination:    "acct-1234",
		IdempotencyKey: key,
	}
}

func TestInsertWithdrawal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newTestService(t))

	w, err := f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: f.newWithdrawal("25.00", "key-1"), MaxActive: 2})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.NotEmpty(t, w.Id)

	found, err := f.svc.FindWithdrawalByIdempotencyKey(ctx, f.freelancer.Id, "key-1")
	require.NoError(t, err)
	assert.Equal(t, w.Id, found.Id)

	_, err = f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: f.newWithdrawal("25.00", "key-1"), MaxActive: 2})
	require.ErrorIs(t, err, store.ErrDuplicateIdempotencyKey)

	_, err = f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: f.newWithdrawal("25.00", "key-2"), MaxActive: 2})
	require.NoError(t, err)

	_, err = f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: f.newWithdrawal("25.00", "key-3"), MaxActive: 2})
	require.ErrorIs(t, err, store.ErrTooManyActiveWithdrawals)

	active, err := f.svc.CountActiveWithdrawals(ctx, f.freelancer.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	_, err = f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: &models.Withdrawal{
		FreelancerId: "missing", Amount: decimal.NewFromInt(1), FinalAmount: decimal.NewFromInt(1),
	}})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithdrawalTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newTestService(t))

	w, err := f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: f.newWithdrawal("40.00", "")})
	require.NoError(t, err)

	processing, err := f.svc.MarkWithdrawalProcessing(ctx, store.WithdrawalProcessingParams{
		WithdrawalId: w.Id, ProviderTransferId: "tr-1", At: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalProcessing, processing.Status)
	assert.Equal(t, "tr-1", processing.ProviderTransferId)
	require.NotNil(t, processing.ProcessedAt)

	_, err = f.svc.MarkWithdrawalProcessing(ctx, store.WithdrawalProcessingParams{WithdrawalId: w.Id, At: time.Now().UTC()})
	require.ErrorIs(t, err, store.ErrStateConflict)

	completed, err := f.svc.CompleteWithdrawal(ctx, store.CompleteWithdrawalParams{WithdrawalId: w.Id, At: time.Now().UTC()})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, completed.Status)

	_, _, err = f.svc.FailWithdrawal(ctx, store.FailWithdrawalParams{WithdrawalId: w.Id, ErrorMessage: "late", At: time.Now().UTC()})
	require.ErrorIs(t, err, store.ErrStateConflict)

	listed, err := f.svc.ListWithdrawalsByStatus(ctx, models.WithdrawalCompleted, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, w.Id, listed[0].Id)
}

func TestFailWithdrawal_RefundsAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newTestService(t))
	f.credit(t, store.AvailableBalance, "100.00")

	// Reserve the funds the way the withdrawal service does.
	f.credit(t, store.AvailableBalance, "-60.00")
	w, err := f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: f.newWithdrawal("60.00", "key-fail")})
	require.NoError(t, err)
	_, err = f.svc.AppendTransactionLog(ctx, models.TransactionLogEntry{
		Type:              models.TxWithdrawal,
		FromParty:         f.freelancer.Id,
		ToParty:           "bank_transfer",
		Amount:            w.Amount,
		NetAmount:         w.FinalAmount,
		RelatedEntityId:   w.Id,
		RelatedEntityType: models.EntityWithdrawal,
		Status:            models.TxStatusPending,
	})
	require.NoError(t, err)

	failed, bal, err := f.svc.FailWithdrawal(ctx, store.FailWithdrawalParams{
		WithdrawalId: w.Id,
		ErrorMessage: "account closed",
		At:           time.Now().UTC(),
		Events: []models.OutboxEvent{{
			Id: "withdrawal.failed:" + w.Id, EventType: models.EventWithdrawalFailed, EntityId: w.Id, RecipientId: f.freelancer.Id,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	assert.Equal(t, "account closed", failed.ErrorMessage)
	requireAmount(t, "100", bal.AvailableBalance)

	entries, err := f.svc.ListTransactionLog(ctx, f.freelancer.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TxStatusFailed, entries[0].Status)
	assert.Equal(t, "60.00", entries[0].Metadata["refunded_amount"])

	// A second failure must not refund twice.
	_, _, err = f.svc.FailWithdrawal(ctx, store.FailWithdrawalParams{WithdrawalId: w.Id, At: time.Now().UTC()})
	require.ErrorIs(t, err, store.ErrStateConflict)

	stored, err := f.svc.GetFreelancerBalance(ctx, f.freelancer.Id)
	require.NoError(t, err)
	requireAmount(t, "100", stored.AvailableBalance)
}

func TestFailWithdrawal_ExpectedStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newTestService(t))
	f.credit(t, store.AvailableBalance, "40.00")

	w, err := f.svc.InsertWithdrawal(ctx, store.InsertWithdrawalParams{Withdrawal: f.newWithdrawal("60.00", "key-expected")})
	require.NoError(t, err)
	_, err = f.svc.MarkWithdrawalProcessing(ctx, store.WithdrawalProcessingParams{
		WithdrawalId:       w.Id,
		ProviderTransferId: "transfer-1",
		At:                 time.Now().UTC(),
	})
	require.NoError(t, err)

	// Already with the provider: a PENDING-only failure is refused without a refund.
	_, _, err = f.svc.FailWithdrawal(ctx, store.FailWithdrawalParams{
		WithdrawalId:   w.Id,
		ExpectedStatus: models.WithdrawalPending,
		ErrorMessage:   "provider error",
		At:             time.Now().UTC(),
	})
	require.ErrorIs(t, err, store.ErrStateConflict)

	stored, err := f.svc.GetWithdrawal(ctx, w.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalProcessing, stored.Status)
	bal, err := f.svc.GetFreelancerBalance(ctx, f.freelancer.Id)
	require.NoError(t, err)
	requireAmount(t, "40", bal.AvailableBalance)

	failed, bal, err := f.svc.FailWithdrawal(ctx, store.FailWithdrawalParams{
		WithdrawalId:   w.Id,
		ExpectedStatus: models.WithdrawalProcessing,
		ErrorMessage:   "returned by bank",
		At:             time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	requireAmount(t, "100", bal.AvailableBalance)
}
