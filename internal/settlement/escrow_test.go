package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFund(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	escrow := NewEscrowService(EscrowServiceConfig{
		Dependencies:       Dependencies{Store: e.db},
		PlatformFeePercent: decimal.NewFromInt(5),
	})

	contract, err := escrow.CreateContract(ctx, e.client.Id, e.freelancer.Id, amount("200.00"))
	require.NoError(t, err)

	_, err = escrow.Fund(ctx, contract.Id, e.freelancer.Id, amount("50.00"), "ref")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = escrow.Fund(ctx, contract.Id, e.client.Id, amount("250.00"), "ref")
	require.ErrorIs(t, err, ErrValidation)

	funded, err := escrow.Fund(ctx, contract.Id, e.client.Id, amount("120.00"), "ref")
	require.NoError(t, err)
	requireAmount(t, "120", funded.TotalPaid)
	requireAmount(t, "120", e.balance(t).PendingBalance)

	entries, err := e.db.ListTransactionLog(ctx, e.client.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	requireAmount(t, "6", entries[0].Fee)
	requireAmount(t, "126", entries[0].Amount)

	events, err := e.db.FetchDueEvents(ctx, e.escrow.now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "120.00", events[0].Payload["amount"])
}

func TestCreateContract_Roles(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.escrow.CreateContract(ctx, e.freelancer.Id, e.client.Id, amount("10.00"))
	require.ErrorIs(t, err, ErrForbidden)

	_, err = e.escrow.CreateContract(ctx, e.client.Id, e.freelancer.Id, amount("0"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.escrow.CreateContract(ctx, "missing", e.freelancer.Id, amount("10.00"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewEventIsDeterministic(t *testing.T) {
	at := time.Now().UTC()

	a := newEvent("escrow.funded", "c-1", "f-1", at, nil)
	b := newEvent("escrow.funded", "c-1", "f-1", at, nil)
	c := newEvent("escrow.funded", "c-1", "f-2", at, nil)
	assert.Equal(t, a.Id, b.Id)
	assert.NotEqual(t, a.Id, c.Id)
}
