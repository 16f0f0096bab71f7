package database

import (
	"context"
	"testing"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumTransactionLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newTestService(t))
	contract := f.contract(t, "300.00")
	m := f.milestone(t, contract.Id, "120.00")
	f.fund(t, contract.Id, "300.00")
	f.submit(t, m.Id)
	_, err := f.svc.SettleMilestone(ctx, f.settleParams(contract, m))
	require.NoError(t, err)

	for _, w := range []struct {
		id     string
		amount string
		status models.TransactionStatus
	}{
		{"w-ok", "50.00", models.TxStatusCompleted},
		{"w-failed", "30.00", models.TxStatusFailed},
	} {
		wd := f.newWithdrawal(w.amount, "")
		_, err := f.svc.AppendTransactionLog(ctx, models.TransactionLogEntry{
			Type:              models.TxWithdrawal,
			FromParty:         f.freelancer.Id,
			ToParty:           "paypal",
			Amount:            wd.Amount,
			NetAmount:         wd.FinalAmount,
			RelatedEntityId:   w.id,
			RelatedEntityType: models.EntityWithdrawal,
			Status:            w.status,
		})
		require.NoError(t, err)
	}

	totals, err := f.svc.SumTransactionLog(ctx, f.freelancer.Id)
	require.NoError(t, err)
	requireAmount(t, "300", totals.Funded)
	requireAmount(t, "120", totals.Released)
	requireAmount(t, "50", totals.Withdrawn)

	empty, err := f.svc.SumTransactionLog(ctx, f.client.Id)
	require.NoError(t, err)
	requireAmount(t, "0", empty.Funded)
}

func TestListTransactionLog_Paging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newTestService(t))
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		_, err := f.svc.AppendTransactionLog(ctx, models.TransactionLogEntry{
			Type:      models.TxEscrowFunding,
			FromParty: f.client.Id,
			ToParty:   f.freelancer.Id,
			Status:    models.TxStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	page, err := f.svc.ListTransactionLog(ctx, f.client.Id, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, err := f.svc.ListTransactionLog(ctx, f.freelancer.Id, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestUpdateTransactionLog_Missing(t *testing.T) {
	svc := newTestService(t)

	err := svc.UpdateTransactionLogByRelatedEntity(context.Background(), "missing", models.EntityWithdrawal, store.TransactionLogPatch{
		Status: models.TxStatusCompleted,
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}
