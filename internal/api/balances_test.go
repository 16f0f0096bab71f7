package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"escrow-settlement-go/internal/cache"
	"escrow-settlement-go/internal/database"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/settlement"
	"escrow-settlement-go/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	db         *database.Service
	cache      *cache.BalanceCache
	ledger     *LedgerService
	deps       settlement.Dependencies
	client     *models.Account
	freelancer *models.Account
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "api.db"),
		MaxOpenConns: 2,
		PingTimeout:  time.Second,
		BusyTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	balances := cache.NewBalanceCache(rdb, time.Minute, nil)

	client, err := db.CreateAccount(ctx, store.CreateAccountParams{Name: "Carol", Email: "carol@example.com", Role: models.RoleClient})
	require.NoError(t, err)
	freelancer, err := db.CreateAccount(ctx, store.CreateAccountParams{Name: "Alice", Email: "alice@example.com", Role: models.RoleFreelancer})
	require.NoError(t, err)

	return &apiEnv{
		db:         db,
		cache:      balances,
		ledger:     NewLedgerService(db, balances),
		deps:       settlement.Dependencies{Store: db, Cache: balances},
		client:     client,
		freelancer: freelancer,
	}
}

func TestGetFreelancerBalance_ReadThrough(t *testing.T) {
	ctx := context.Background()
	e := newAPIEnv(t)

	_, err := e.db.ConditionalAdjust(ctx, store.BalanceAdjustment{
		AccountId: e.freelancer.Id, Field: store.AvailableBalance, Delta: decimal.NewFromInt(80),
	})
	require.NoError(t, err)

	bal, err := e.ledger.GetFreelancerBalance(ctx, e.freelancer.Id)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(80).Equal(bal.AvailableBalance))

	cached, found, err := e.cache.Get(ctx, e.freelancer.Id)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, bal.AvailableBalance.Equal(cached.AvailableBalance))

	// A settlement write invalidates the entry, so the next read sees it.
	withdrawals := settlement.NewWithdrawalService(settlement.WithdrawalServiceConfig{Dependencies: e.deps})
	_, err = withdrawals.Request(ctx, settlement.WithdrawalRequest{
		FreelancerId: e.freelancer.Id,
		Amount:       decimal.NewFromInt(30),
		Method:       "paypal",
		Destination:  "alice@example.com",
	})
	require.NoError(t, err)

	_, found, err = e.cache.Get(ctx, e.freelancer.Id)
	require.NoError(t, err)
	assert.False(t, found)

	bal, err = e.ledger.GetFreelancerBalance(ctx, e.freelancer.Id)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(bal.AvailableBalance))
}

func TestGetFreelancerBalance_NotFound(t *testing.T) {
	e := newAPIEnv(t)

	_, err := e.ledger.GetFreelancerBalance(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.ledger.GetFreelancerBalance(context.Background(), "")
	require.Error(t, err)
}

func TestReconcileBalance(t *testing.T) {
	ctx := context.Background()
	e := newAPIEnv(t)
	escrow := settlement.NewEscrowService(settlement.EscrowServiceConfig{Dependencies: e.deps})
	milestones := settlement.NewMilestoneService(e.deps)
	withdrawals := settlement.NewWithdrawalService(settlement.WithdrawalServiceConfig{Dependencies: e.deps})

	contract, err := escrow.CreateContract(ctx, e.client.Id, e.freelancer.Id, decimal.NewFromInt(200))
	require.NoError(t, err)
	m, err := milestones.Create(ctx, e.client.Id, settlement.CreateMilestoneRequest{
		ContractId: contract.Id, Title: "Build", Amount: decimal.NewFromInt(120),
	})
	require.NoError(t, err)
	_, err = escrow.Fund(ctx, contract.Id, e.client.Id, decimal.NewFromInt(200), "pi_1")
	require.NoError(t, err)
	_, err = milestones.Submit(ctx, m.Id, e.freelancer.Id, []string{"https://example.com/build"}, "")
	require.NoError(t, err)
	_, err = milestones.Approve(ctx, m.Id, e.client.Id)
	require.NoError(t, err)

	w, err := withdrawals.Request(ctx, settlement.WithdrawalRequest{
		FreelancerId: e.freelancer.Id, Amount: decimal.NewFromInt(50), Method: "bank_transfer", Destination: "acct",
	})
	require.NoError(t, err)
	other, err := withdrawals.Request(ctx, settlement.WithdrawalRequest{
		FreelancerId: e.freelancer.Id, Amount: decimal.NewFromInt(20), Method: "bank_transfer", Destination: "acct",
	})
	require.NoError(t, err)
	_, err = withdrawals.Fail(ctx, other.Id, "bank rejected")
	require.NoError(t, err)

	result, err := e.ledger.ReconcileBalance(ctx, e.freelancer.Id)
	require.NoError(t, err)
	assert.True(t, result.Matches)
	assert.True(t, decimal.NewFromInt(80).Equal(result.ExpectedPending))
	assert.True(t, decimal.NewFromInt(70).Equal(result.ExpectedAvailable))

	history, err := e.ledger.GetTransactionHistory(ctx, e.freelancer.Id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	// Drift introduced outside the settlement services is detected.
	_, err = e.db.ConditionalAdjust(ctx, store.BalanceAdjustment{
		AccountId: e.freelancer.Id, Field: store.AvailableBalance, Delta: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	result, err = e.ledger.ReconcileBalance(ctx, e.freelancer.Id)
	require.NoError(t, err)
	assert.False(t, result.Matches)

	listed, err := e.ledger.GetWithdrawals(ctx, e.freelancer.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	ids := []string{listed[0].Id, listed[1].Id}
	assert.ElementsMatch(t, []string{w.Id, other.Id}, ids)

	loaded, ms, err := e.ledger.GetMilestones(ctx, contract.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ContractCompleted, loaded.Status)
	require.Len(t, ms, 1)
	assert.Equal(t, models.MilestoneApproved, ms[0].Status)
}
