package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound                 = errors.New("record not found")
	ErrGuardFailed              = errors.New("guard condition not met")
	ErrEscrowGuardFailed        = fmt.Errorf("%w: contract escrow", ErrGuardFailed)
	ErrStateConflict            = errors.New("record state changed concurrently")
	ErrDuplicateIdempotencyKey  = errors.New("duplicate idempotency key")
	ErrDuplicateEmail           = errors.New("email already registered")
	ErrDuplicateOrder           = errors.New("milestone order already taken")
	ErrTooManyActiveWithdrawals = errors.New("too many active withdrawals")
	ErrInvalidAmount            = errors.New("invalid amount")
)

// BalanceField names one of the two guarded balance columns on a freelancer account.
type BalanceField string

const (
	PendingBalance   BalanceField = "pending_balance"
	AvailableBalance BalanceField = "available_balance"
)

// BalanceAdjustment describes a single guarded arithmetic update. The result
// may never drop below zero; MinimumBefore additionally requires the field to
// hold at least that value when the update is applied.
type BalanceAdjustment struct {
	AccountId     string
	Field         BalanceField
	Delta         decimal.Decimal
	MinimumBefore decimal.Decimal
}

// CreateAccountParams contains the parameters for registering a marketplace account.
type CreateAccountParams struct {
	Id    string // optional, generated when empty
	Name  string
	Email string
	Role  models.AccountRole
}

// CreateContractParams contains the parameters for recording a formed contract.
type CreateContractParams struct {
	JobId        string
	ClientId     string
	FreelancerId string
	Currency     string
	TotalAmount  decimal.Decimal
}

// FundEscrowParams records a client payment into a contract's escrow. Amount is
// credited to the freelancer's pending balance; PlatformFee is kept by the platform.
type FundEscrowParams struct {
	ContractId  string
	Amount      decimal.Decimal
	PlatformFee decimal.Decimal
	Reference   string
	At          time.Time
	Events      []models.OutboxEvent
}

// CompleteContractParams marks a fully released contract as completed.
type CompleteContractParams struct {
	ContractId string
	At         time.Time
	Events     []models.OutboxEvent
}

// CreateMilestoneParams contains the parameters for adding a milestone. Order 0
// appends after the current last milestone.
type CreateMilestoneParams struct {
	ContractId  string
	Title       string
	Description string
	Amount      decimal.Decimal
	Order       int
	DueDate     *time.Time
}

type SubmitMilestoneParams struct {
	MilestoneId  string
	Deliverables []string
	Note         string
	At           time.Time
	Events       []models.OutboxEvent
}

type RejectMilestoneParams struct {
	MilestoneId string
	Feedback    string
	At          time.Time
	Events      []models.OutboxEvent
}

// UpdateMilestoneParams carries the new values. Amount is nil when unchanged.
type UpdateMilestoneParams struct {
	MilestoneId string
	Title       string
	Description string
	DueDate     *time.Time
	Amount      *decimal.Decimal
	At          time.Time
}

// SettleMilestoneParams releases an approved milestone's amount from escrow.
type SettleMilestoneParams struct {
	MilestoneId  string
	ContractId   string
	FreelancerId string
	Amount       decimal.Decimal
	At           time.Time
	LogEntry     models.TransactionLogEntry
	Events       []models.OutboxEvent
}

type SettleMilestoneResult struct {
	Milestone     *models.Milestone
	Contract      *models.Contract
	Balance       models.FreelancerBalance
	TransactionId string
}

// InsertWithdrawalParams persists a PENDING withdrawal. The insert is refused
// when the freelancer already has MaxActive non-terminal withdrawals.
type InsertWithdrawalParams struct {
	Withdrawal *models.Withdrawal
	MaxActive  int
}

type WithdrawalProcessingParams struct {
	WithdrawalId       string
	ProviderTransferId string
	At                 time.Time
	Events             []models.OutboxEvent
}

type CompleteWithdrawalParams struct {
	WithdrawalId string
	At           time.Time
	Events       []models.OutboxEvent
}

// FailWithdrawalParams moves a withdrawal to FAILED and refunds its full amount
// to the available balance in the same unit of work. A non-empty
// ExpectedStatus restricts the transition to withdrawals still in that status;
// otherwise PENDING and PROCESSING are both accepted.
type FailWithdrawalParams struct {
	WithdrawalId   string
	ExpectedStatus models.WithdrawalStatus
	ErrorMessage   string
	At             time.Time
	Events         []models.OutboxEvent
}

// TransactionLogPatch reflects a status change already committed to the owning aggregate.
type TransactionLogPatch struct {
	Status      models.TransactionStatus
	Description string // appended when non-empty
	Metadata    map[string]string
	At          time.Time
}

// LedgerTotals aggregates the transaction log for a freelancer.
type LedgerTotals struct {
	Funded    decimal.Decimal
	Released  decimal.Decimal
	Withdrawn decimal.Decimal
}

// LedgerStore defines the contract that every backend must satisfy. Balances
// have no setter: ConditionalAdjust and the settlement operations are the only
// writers and all of them use the same guarded update.
type LedgerStore interface {
	// --- Accounts ---
	CreateAccount(ctx context.Context, params CreateAccountParams) (*models.Account, error)
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context, role models.AccountRole) ([]models.Account, error)

	// --- Balances ---
	GetFreelancerBalance(ctx context.Context, freelancerId string) (models.FreelancerBalance, error)
	ConditionalAdjust(ctx context.Context, adj BalanceAdjustment) (models.FreelancerBalance, error)

	// --- Contracts ---
	CreateContract(ctx context.Context, params CreateContractParams) (*models.Contract, error)
	GetContract(ctx context.Context, contractId string) (*models.Contract, error)
	FundEscrow(ctx context.Context, params FundEscrowParams) (*models.Contract, error)
	CompleteContract(ctx context.Context, params CompleteContractParams) (bool, error)
	MarkJobCompleted(ctx context.Context, jobId string, at time.Time) error

	// --- Milestones ---
	CreateMilestone(ctx context.Context, params CreateMilestoneParams) (*models.Milestone, error)
	GetMilestone(ctx context.Context, milestoneId string) (*models.Milestone, error)
	ListMilestones(ctx context.Context, contractId string) ([]models.Milestone, error)
	StartMilestone(ctx context.Context, milestoneId string, at time.Time) (*models.Milestone, error)
	SubmitMilestone(ctx context.Context, params SubmitMilestoneParams) (*models.Milestone, error)
	RejectMilestone(ctx context.Context, params RejectMilestoneParams) (*models.Milestone, error)
	UpdateMilestone(ctx context.Context, params UpdateMilestoneParams) (*models.Milestone, error)
	ReorderMilestones(ctx context.Context, contractId string, orderedIds []string) ([]models.Milestone, error)
	DeleteMilestone(ctx context.Context, milestoneId string) (*models.Contract, error)
	SettleMilestone(ctx context.Context, params SettleMilestoneParams) (*SettleMilestoneResult, error)

	// --- Withdrawals ---
	GetWithdrawal(ctx context.Context, withdrawalId string) (*models.Withdrawal, error)
	FindWithdrawalByIdempotencyKey(ctx context.Context, freelancerId, key string) (*models.Withdrawal, error)
	CountActiveWithdrawals(ctx context.Context, freelancerId string) (int, error)
	InsertWithdrawal(ctx context.Context, params InsertWithdrawalParams) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, freelancerId string, limit, offset int) ([]models.Withdrawal, error)
	ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]models.Withdrawal, error)
	MarkWithdrawalProcessing(ctx context.Context, params WithdrawalProcessingParams) (*models.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, params CompleteWithdrawalParams) (*models.Withdrawal, error)
	FailWithdrawal(ctx context.Context, params FailWithdrawalParams) (*models.Withdrawal, models.FreelancerBalance, error)

	// --- Transaction log ---
	AppendTransactionLog(ctx context.Context, entry models.TransactionLogEntry) (string, error)
	UpdateTransactionLogByRelatedEntity(ctx context.Context, entityId, entityType string, patch TransactionLogPatch) error
	ListTransactionLog(ctx context.Context, partyId string, limit, offset int) ([]models.TransactionLogEntry, error)
	SumTransactionLog(ctx context.Context, freelancerId string) (LedgerTotals, error)

	// --- Outbox ---
	EnqueueEvents(ctx context.Context, events ...models.OutboxEvent) error
	FetchDueEvents(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error)
	MarkEventDelivered(ctx context.Context, eventId string, at time.Time) error
	MarkEventFailed(ctx context.Context, eventId, lastError string, nextAttemptAt time.Time, dead bool) error

	// --- Lifecycle ---
	Close()
}
