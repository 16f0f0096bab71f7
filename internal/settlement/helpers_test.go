package settlement

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"escrow-settlement-go/internal/database"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/payout"
	"escrow-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeProvider records transfers and fails them when err is set.
type fakeProvider struct {
	mu       sync.Mutex
	err      error
	requests []payout.TransferRequest
}

func (p *fakeProvider) CreateTransfer(_ context.Context, req payout.TransferRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	return "transfer-" + req.IdempotencyKey, nil
}

func (p *fakeProvider) TransferStatus(_ context.Context, transferId string) (*models.TransferStatus, error) {
	return &models.TransferStatus{TransferId: transferId, State: models.TransferPending}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, freelancerId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, freelancerId)
	return nil
}

type env struct {
	db          *database.Service
	provider    *fakeProvider
	cache       *recordingInvalidator
	escrow      *EscrowService
	milestones  *MilestoneService
	withdrawals *WithdrawalService
	client      *models.Account
	freelancer  *models.Account
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "settlement.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
		BusyTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	client, err := db.CreateAccount(ctx, store.CreateAccountParams{Name: "Carol", Email: "carol@example.com", Role: models.RoleClient})
	require.NoError(t, err)
	freelancer, err := db.CreateAccount(ctx, store.CreateAccountParams{Name: "Alice", Email: "alice@example.com", Role: models.RoleFreelancer})
	require.NoError(t, err)

	provider := &fakeProvider{}
	cache := &recordingInvalidator{}
	deps := Dependencies{Store: db, Cache: cache}

	return &env{
		db:         db,
		provider:   provider,
		cache:      cache,
		escrow:     NewEscrowService(EscrowServiceConfig{Dependencies: deps}),
		milestones: NewMilestoneService(deps),
		withdrawals: NewWithdrawalService(WithdrawalServiceConfig{
			Dependencies:         deps,
			Provider:             provider,
			MaxActiveWithdrawals: 10,
		}),
		client:     client,
		freelancer: freelancer,
	}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, amount(want).Equal(got), "expected %s, got %s", want, got)
}

func (e *env) balance(t *testing.T) models.FreelancerBalance {
	t.Helper()
	bal, err := e.db.GetFreelancerBalance(context.Background(), e.freelancer.Id)
	require.NoError(t, err)
	return bal
}

// seedAvailable credits the freelancer's available balance directly.
func (e *env) seedAvailable(t *testing.T, value string) {
	t.Helper()
	_, err := e.db.ConditionalAdjust(context.Background(), store.BalanceAdjustment{
		AccountId: e.freelancer.Id,
		Field:     store.AvailableBalance,
		Delta:     amount(value),
	})
	require.NoError(t, err)
}

// submittedMilestone creates a contract with a single milestone of the given
// amount, optionally funds it, and submits the work.
func (e *env) submittedMilestone(t *testing.T, value string, fund bool) (*models.Contract, *models.Milestone) {
	t.Helper()
	ctx := context.Background()

	contract, err := e.escrow.CreateContract(ctx, e.client.Id, e.freelancer.Id, amount(value))
	require.NoError(t, err)
	m, err := e.milestones.Create(ctx, e.client.Id, CreateMilestoneRequest{
		ContractId: contract.Id,
		Title:      "Deliver " + value,
		Amount:     amount(value),
	})
	require.NoError(t, err)
	if fund {
		contract, err = e.escrow.Fund(ctx, contract.Id, e.client.Id, amount(value), "test")
		require.NoError(t, err)
	}
	m, err = e.milestones.Submit(ctx, m.Id, e.freelancer.Id, []string{"https://example.com/pr/1"}, "done")
	require.NoError(t, err)
	return contract, m
}
