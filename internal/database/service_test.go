package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) models.DatabaseConfig {
	t.Helper()
	return models.DatabaseConfig{
		Driver:       DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "escrow.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
		BusyTimeout:  5 * time.Second,
	}
}

// newTestService opens a fresh file-backed SQLite ledger so concurrent
// connections share one database.
func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

type fixture struct {
	svc        *Service
	client     *models.Account
	freelancer *models.Account
}

func newFixture(t *testing.T, svc *Service) *fixture {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000000")

	client, err := svc.CreateAccount(ctx, store.CreateAccountParams{
		Name: "Client", Email: "client-" + suffix + "@example.com", Role: models.RoleClient,
	})
	require.NoError(t, err)
	freelancer, err := svc.CreateAccount(ctx, store.CreateAccountParams{
		Name: "Freelancer", Email: "freelancer-" + suffix + "@example.com", Role: models.RoleFreelancer,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, client: client, freelancer: freelancer}
}

func (f *fixture) contract(t *testing.T, total string) *models.Contract {
	t.Helper()
	contract, err := f.svc.CreateContract(context.Background(), store.CreateContractParams{
		ClientId:     f.client.Id,
		FreelancerId: f.freelancer.Id,
		Currency:     "USD",
		TotalAmount:  decimal.RequireFromString(total),
	})
	require.NoError(t, err)
	return contract
}

func (f *fixture) milestone(t *testing.T, contractId, amount string) *models.Milestone {
	t.Helper()
	m, err := f.svc.CreateMilestone(context.Background(), store.CreateMilestoneParams{
		ContractId: contractId,
		Title:      "Milestone " + amount,
		Amount:     decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) fund(t *testing.T, contractId, amount string) {
	t.Helper()
	_, err := f.svc.FundEscrow(context.Background(), store.FundEscrowParams{
		ContractId: contractId,
		Amount:     decimal.RequireFromString(amount),
		Reference:  "test",
		At:         time.Now().UTC(),
	})
	require.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, milestoneId string) {
	t.Helper()
	_, err := f.svc.SubmitMilestone(context.Background(), store.SubmitMilestoneParams{
		MilestoneId:  milestoneId,
		Deliverables: []string{"https://example.com/work"},
		At:           time.Now().UTC(),
	})
	require.NoError(t, err)
}

func (f *fixture) credit(t *testing.T, field store.BalanceField, amount string) models.FreelancerBalance {
	t.Helper()
	bal, err := f.svc.ConditionalAdjust(context.Background(), store.BalanceAdjustment{
		AccountId: f.freelancer.Id,
		Field:     field,
		Delta:     decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return bal
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "expected %s, got %s", want, got)
}

func TestNewService_Validation(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Path = ""
	_, err := NewService(ctx, cfg)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Driver = "mysql"
	_, err = NewService(ctx, cfg)
	require.ErrorContains(t, err, "unsupported database driver")

	cfg = testConfig(t)
	cfg.MaxOpenConns = 0
	_, err = NewService(ctx, cfg)
	require.Error(t, err)
}

func TestNewService_SchemaIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.CreateDummyUsers = true

	first, err := NewService(context.Background(), cfg)
	require.NoError(t, err)
	first.Close()

	second, err := NewService(context.Background(), cfg)
	require.NoError(t, err)
	defer second.Close()

	accounts, err := second.ListAccounts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, accounts, 3)
}

func TestRebind(t *testing.T) {
	c := &conn{postgres: true}
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", c.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	c.postgres = false
	require.Equal(t, "SELECT ?", c.rebind("SELECT ?"))
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	svc, err := NewService(ctx, models.DatabaseConfig{
		Driver:       DriverPostgres,
		Path:         dsn,
		MaxOpenConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	defer svc.Close()

	f := newFixture(t, svc)
	contract := f.contract(t, "100.00")
	m := f.milestone(t, contract.Id, "100.00")
	f.fund(t, contract.Id, "100.00")
	f.submit(t, m.Id)

	result, err := svc.SettleMilestone(ctx, store.SettleMilestoneParams{
		MilestoneId:  m.Id,
		ContractId:   contract.Id,
		FreelancerId: f.freelancer.Id,
		Amount:       m.Amount,
		At:           time.Now().UTC(),
		LogEntry: models.TransactionLogEntry{
			Type: models.TxMilestoneRelease, FromParty: f.client.Id, ToParty: f.freelancer.Id,
			Amount: m.Amount, NetAmount: m.Amount, RelatedEntityId: m.Id,
			RelatedEntityType: models.EntityMilestone, Status: models.TxStatusCompleted,
		},
	})
	require.NoError(t, err)
	requireAmount(t, "0", result.Balance.PendingBalance)
	requireAmount(t, "100", result.Balance.AvailableBalance)

	_, err = svc.ConditionalAdjust(ctx, store.BalanceAdjustment{
		AccountId: f.freelancer.Id, Field: store.AvailableBalance,
		Delta: decimal.NewFromInt(-101), MinimumBefore: decimal.NewFromInt(101),
	})
	require.ErrorIs(t, err, store.ErrGuardFailed)
}
