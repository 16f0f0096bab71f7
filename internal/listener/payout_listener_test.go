package listener

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"escrow-settlement-go/internal/database"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/payout"
	"escrow-settlement-go/internal/settlement"
	"escrow-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider accepts every transfer and reports whatever state the test
// has set for it.
type scriptedProvider struct {
	mu     sync.Mutex
	states map[string]models.TransferStatus
}

func (p *scriptedProvider) CreateTransfer(_ context.Context, req payout.TransferRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "tr-" + req.IdempotencyKey
	p.states[id] = models.TransferStatus{TransferId: id, State: models.TransferPending, ProviderStatus: "TRANSFER_CREATED"}
	return id, nil
}

func (p *scriptedProvider) TransferStatus(_ context.Context, transferId string) (*models.TransferStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := p.states[transferId]
	return &status, nil
}

func (p *scriptedProvider) set(transferId string, state models.TransferState, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := p.states[transferId]
	status.State = state
	status.Reason = reason
	p.states[transferId] = status
}

type listenerEnv struct {
	db          *database.Service
	provider    *scriptedProvider
	withdrawals *settlement.WithdrawalService
	listener    *PayoutListener
	freelancer  *models.Account
}

func newListenerEnv(t *testing.T) *listenerEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "listener.db"),
		MaxOpenConns: 2,
		PingTimeout:  time.Second,
		BusyTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	freelancer, err := db.CreateAccount(ctx, store.CreateAccountParams{Name: "Alice", Email: "alice@example.com", Role: models.RoleFreelancer})
	require.NoError(t, err)
	_, err = db.ConditionalAdjust(ctx, store.BalanceAdjustment{
		AccountId: freelancer.Id, Field: store.AvailableBalance, Delta: decimal.NewFromInt(500),
	})
	require.NoError(t, err)

	provider := &scriptedProvider{states: make(map[string]models.TransferStatus)}
	withdrawals := settlement.NewWithdrawalService(settlement.WithdrawalServiceConfig{
		Dependencies: settlement.Dependencies{Store: db},
		Provider:     provider,
	})

	return &listenerEnv{
		db:          db,
		provider:    provider,
		withdrawals: withdrawals,
		listener: NewPayoutListener(PayoutListenerConfig{
			Provider:       provider,
			Withdrawals:    withdrawals,
			DbService:      db,
			ProcessPending: true,
		}),
		freelancer: freelancer,
	}
}

func (e *listenerEnv) request(t *testing.T, method, value string) *models.Withdrawal {
	t.Helper()
	w, err := e.withdrawals.Request(context.Background(), settlement.WithdrawalRequest{
		FreelancerId: e.freelancer.Id,
		Amount:       decimal.RequireFromString(value),
		Method:       method,
		Destination:  "dest-1",
	})
	require.NoError(t, err)
	return w
}

func (e *listenerEnv) withdrawal(t *testing.T, id string) *models.Withdrawal {
	t.Helper()
	w, err := e.db.GetWithdrawal(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (e *listenerEnv) available(t *testing.T) decimal.Decimal {
	t.Helper()
	bal, err := e.db.GetFreelancerBalance(context.Background(), e.freelancer.Id)
	require.NoError(t, err)
	return bal.AvailableBalance
}

func TestPoll_SubmitsAndCompletes(t *testing.T) {
	ctx := context.Background()
	e := newListenerEnv(t)
	w := e.request(t, "usdc_wallet", "100.00")

	e.listener.Poll(ctx)
	submitted := e.withdrawal(t, w.Id)
	assert.Equal(t, models.WithdrawalProcessing, submitted.Status)
	assert.Equal(t, "tr-"+w.Id, submitted.ProviderTransferId)

	// Still in flight: nothing changes.
	e.listener.Poll(ctx)
	assert.Equal(t, models.WithdrawalProcessing, e.withdrawal(t, w.Id).Status)

	e.provider.set(submitted.ProviderTransferId, models.TransferCompleted, "")
	e.listener.Poll(ctx)
	assert.Equal(t, models.WithdrawalCompleted, e.withdrawal(t, w.Id).Status)
	assert.True(t, decimal.NewFromInt(400).Equal(e.available(t)))
}

func TestPoll_ProviderFailureRefunds(t *testing.T) {
	ctx := context.Background()
	e := newListenerEnv(t)
	w := e.request(t, "usdc_wallet", "100.00")

	e.listener.Poll(ctx)
	e.provider.set("tr-"+w.Id, models.TransferFailed, "destination rejected")
	e.listener.Poll(ctx)

	failed := e.withdrawal(t, w.Id)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	assert.Equal(t, "destination rejected", failed.ErrorMessage)
	assert.True(t, decimal.NewFromInt(500).Equal(e.available(t)))
}

func TestPoll_LeavesManualPayoutsToOperator(t *testing.T) {
	ctx := context.Background()
	e := newListenerEnv(t)
	w := e.request(t, "bank_transfer", "50.00")

	e.listener.Poll(ctx)
	assert.Equal(t, models.WithdrawalPending, e.withdrawal(t, w.Id).Status)

	_, err := e.withdrawals.Process(ctx, w.Id, settlement.ProcessOptions{})
	require.NoError(t, err)
	e.listener.Poll(ctx)
	assert.Equal(t, models.WithdrawalProcessing, e.withdrawal(t, w.Id).Status)
}

func TestStuckReports(t *testing.T) {
	l := NewPayoutListener(PayoutListenerConfig{CleanupInterval: time.Minute})

	assert.True(t, l.reportStuckOnce("w-1"))
	assert.False(t, l.reportStuckOnce("w-1"))

	l.mutex.Lock()
	l.stuckReported["w-1"] = time.Now().Add(-2 * time.Minute)
	l.mutex.Unlock()
	l.cleanupStuckReports()
	assert.True(t, l.reportStuckOnce("w-1"))

	l.forgetStuck("w-1")
	assert.True(t, l.reportStuckOnce("w-1"))
}
