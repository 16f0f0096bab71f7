package settlement

import (
	"context"
	"errors"
	"testing"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprove_ReleasesEscrow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedAvailable(t, "100.00")

	contract, m := e.submittedMilestone(t, "50.00", true)
	before := e.balance(t)
	requireAmount(t, "50", before.PendingBalance)
	requireAmount(t, "100", before.AvailableBalance)

	result, err := e.milestones.Approve(ctx, m.Id, e.client.Id)
	require.NoError(t, err)

	requireAmount(t, "0", result.Balance.PendingBalance)
	requireAmount(t, "150", result.Balance.AvailableBalance)
	assert.True(t, before.Total().Equal(result.Balance.Total()))
	requireAmount(t, "50", result.Contract.ReleasedAmount)
	assert.Equal(t, 1, result.Contract.CompletedMilestones)
	assert.Equal(t, models.MilestoneApproved, result.Milestone.Status)
	assert.True(t, result.ContractCompleted)

	stored, err := e.db.GetContract(ctx, contract.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ContractCompleted, stored.Status)
	assert.Contains(t, e.cache.ids, e.freelancer.Id)

	entries, err := e.db.ListTransactionLog(ctx, e.freelancer.Id, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, models.TxMilestoneRelease, entries[0].Type)
}

func TestApprove_EscrowNotFunded(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, m := e.submittedMilestone(t, "50.00", false)

	_, err := e.milestones.Approve(ctx, m.Id, e.client.Id)
	require.ErrorIs(t, err, ErrEscrowNotFunded)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	stored, err := e.db.GetMilestone(ctx, m.Id)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneSubmitted, stored.Status)

	bal := e.balance(t)
	requireAmount(t, "0", bal.PendingBalance)
	requireAmount(t, "0", bal.AvailableBalance)
}

func storeDebit(accountId, value string) store.BalanceAdjustment {
	return store.BalanceAdjustment{
		AccountId: accountId,
		Field:     store.PendingBalance,
		Delta:     amount(value).Neg(),
	}
}

func TestApprove_PendingShortfallIsIntegrityViolation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, m := e.submittedMilestone(t, "80.00", true)

	// Simulate ledger drift on the pending side.
	_, err := e.db.ConditionalAdjust(ctx, storeDebit(e.freelancer.Id, "30.00"))
	require.NoError(t, err)

	_, err = e.milestones.Approve(ctx, m.Id, e.client.Id)
	require.ErrorIs(t, err, ErrInsufficientPendingBalance)
	require.ErrorIs(t, err, ErrIntegrityViolation)
	assert.Contains(t, err.Error(), "need $80.00, have $50.00")

	stored, err := e.db.GetMilestone(ctx, m.Id)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneSubmitted, stored.Status)
}

func TestApprove_RejectsWrongCallerAndState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, m := e.submittedMilestone(t, "20.00", true)

	_, err := e.milestones.Approve(ctx, m.Id, e.freelancer.Id)
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.milestones.Approve(ctx, m.Id, e.client.Id)
	require.NoError(t, err)

	_, err = e.milestones.Approve(ctx, m.Id, e.client.Id)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.milestones.Approve(ctx, "missing", e.client.Id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApprove_ConcurrentApprovalsReleaseOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, m := e.submittedMilestone(t, "75.00", true)

	const callers = 5
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := e.milestones.Approve(ctx, m.Id, e.client.Id)
			errs <- err
		}()
	}

	succeeded := 0
	for i := 0; i < callers; i++ {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrConcurrentConflict) || errors.Is(err, ErrInvalidTransition), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	bal := e.balance(t)
	requireAmount(t, "0", bal.PendingBalance)
	requireAmount(t, "75", bal.AvailableBalance)
}

func TestRejectAndResubmit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, m := e.submittedMilestone(t, "40.00", true)

	_, err := e.milestones.Reject(ctx, m.Id, e.client.Id, "  ")
	require.ErrorIs(t, err, ErrValidation)

	rejected, err := e.milestones.Reject(ctx, m.Id, e.client.Id, "needs docs")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneRejected, rejected.Status)

	started, err := e.milestones.Start(ctx, m.Id, e.freelancer.Id)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneInProgress, started.Status)

	_, err = e.milestones.Submit(ctx, m.Id, e.freelancer.Id, []string{" "}, "")
	require.ErrorIs(t, err, ErrValidation)

	resubmitted, err := e.milestones.Submit(ctx, m.Id, e.freelancer.Id, []string{"https://example.com/docs"}, "added docs")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneSubmitted, resubmitted.Status)
}

func TestUpdateAndReorder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	contract, err := e.escrow.CreateContract(ctx, e.client.Id, e.freelancer.Id, amount("300.00"))
	require.NoError(t, err)
	var ids []string
	for _, title := range []string{"Design", "Build", "Ship"} {
		m, err := e.milestones.Create(ctx, e.client.Id, CreateMilestoneRequest{
			ContractId: contract.Id, Title: title, Amount: amount("100.00"),
		})
		require.NoError(t, err)
		ids = append(ids, m.Id)
	}

	title := "Design system"
	newAmount := amount("120.00")
	updated, err := e.milestones.Update(ctx, ids[0], e.client.Id, MilestoneUpdate{Title: &title, Amount: &newAmount})
	require.NoError(t, err)
	assert.Equal(t, "Design system", updated.Title)
	requireAmount(t, "120", updated.Amount)

	_, err = e.milestones.Reorder(ctx, contract.Id, e.client.Id, ids[:2])
	require.ErrorIs(t, err, ErrValidation)

	reordered, err := e.milestones.Reorder(ctx, contract.Id, e.client.Id, []string{ids[2], ids[0], ids[1]})
	require.NoError(t, err)
	require.Len(t, reordered, 3)
	assert.Equal(t, ids[2], reordered[0].Id)

	_, err = e.milestones.Start(ctx, ids[1], e.freelancer.Id)
	require.NoError(t, err)
	_, err = e.milestones.Update(ctx, ids[1], e.client.Id, MilestoneUpdate{Amount: &newAmount})
	require.ErrorIs(t, err, ErrValidation)
}

func TestApprove_InsufficientContractBalance(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	contract, err := e.escrow.CreateContract(ctx, e.client.Id, e.freelancer.Id, amount("100.00"))
	require.NoError(t, err)
	var ids []string
	for _, title := range []string{"Design", "Build"} {
		m, err := e.milestones.Create(ctx, e.client.Id, CreateMilestoneRequest{
			ContractId: contract.Id,
			Title:      title,
			Amount:     amount("60.00"),
		})
		require.NoError(t, err)
		_, err = e.milestones.Submit(ctx, m.Id, e.freelancer.Id, []string{"https://example.com/" + title}, "")
		require.NoError(t, err)
		ids = append(ids, m.Id)
	}
	_, err = e.escrow.Fund(ctx, contract.Id, e.client.Id, amount("100.00"), "test")
	require.NoError(t, err)

	_, err = e.milestones.Approve(ctx, ids[0], e.client.Id)
	require.NoError(t, err)

	_, err = e.milestones.Approve(ctx, ids[1], e.client.Id)
	require.ErrorIs(t, err, ErrInsufficientContractBalance)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "need $60.00, $40.00 left in escrow")

	stored, err := e.db.GetMilestone(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneSubmitted, stored.Status)

	bal := e.balance(t)
	requireAmount(t, "40", bal.PendingBalance)
	requireAmount(t, "60", bal.AvailableBalance)

	c, err := e.db.GetContract(ctx, contract.Id)
	require.NoError(t, err)
	requireAmount(t, "60", c.ReleasedAmount)
	assert.Equal(t, 1, c.CompletedMilestones)

	entries, err := e.db.ListTransactionLog(ctx, e.freelancer.Id, 10, 0)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotEqual(t, ids[1], entry.RelatedEntityId, "no release may be logged for the rejected approval")
	}
}
