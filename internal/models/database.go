package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountRole string

const (
	RoleFreelancer AccountRole = "freelancer"
	RoleClient     AccountRole = "client"
)

type ContractStatus string

const (
	ContractActive    ContractStatus = "ACTIVE"
	ContractCompleted ContractStatus = "COMPLETED"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "PENDING"
	MilestoneInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneSubmitted  MilestoneStatus = "SUBMITTED"
	MilestoneApproved   MilestoneStatus = "APPROVED"
	MilestoneRejected   MilestoneStatus = "REJECTED"
)

// Editable reports whether the milestone may still be reordered, updated or deleted.
func (s MilestoneStatus) Editable() bool {
	return s != MilestoneSubmitted && s != MilestoneApproved
}

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalFailed     WithdrawalStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// Account represents a marketplace participant. Balances are only meaningful
// for freelancers and are owned by the ledger store.
type Account struct {
	Id               string          `db:"id"`
	Name             string          `db:"name"`
	Email            string          `db:"email"`
	Role             AccountRole     `db:"role"`
	PendingBalance   decimal.Decimal `db:"pending_balance"`
	AvailableBalance decimal.Decimal `db:"available_balance"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

// Contract represents the escrow held between a client and a freelancer
type Contract struct {
	Id                  string          `db:"id"`
	JobId               string          `db:"job_id"`
	ClientId            string          `db:"client_id"`
	FreelancerId        string          `db:"freelancer_id"`
	Currency            string          `db:"currency"`
	TotalAmount         decimal.Decimal `db:"total_amount"`
	TotalPaid           decimal.Decimal `db:"total_paid"`
	ReleasedAmount      decimal.Decimal `db:"released_amount"`
	MilestoneCount      int             `db:"milestone_count"`
	CompletedMilestones int             `db:"completed_milestones"`
	Status              ContractStatus  `db:"status"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
	CompletedAt         *time.Time      `db:"completed_at"`
}

// RemainingEscrow is the amount that can still be released to the freelancer
func (c *Contract) RemainingEscrow() decimal.Decimal {
	return c.TotalAmount.Sub(c.ReleasedAmount)
}

// Milestone is a child record of a contract
type Milestone struct {
	Id             string          `db:"id"`
	ContractId     string          `db:"contract_id"`
	Title          string          `db:"title"`
	Description    string          `db:"description"`
	Amount         decimal.Decimal `db:"amount"`
	Order          int             `db:"sort_order"`
	Status         MilestoneStatus `db:"status"`
	Deliverables   []string        `db:"deliverables"`
	SubmissionNote string          `db:"submission_note"`
	Feedback       string          `db:"feedback"`
	DueDate        *time.Time      `db:"due_date"`
	SubmittedAt    *time.Time      `db:"submitted_at"`
	ApprovedAt     *time.Time      `db:"approved_at"`
	RejectedAt     *time.Time      `db:"rejected_at"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Withdrawal represents a freelancer payout request
type Withdrawal struct {
	Id                 string           `db:"id"`
	FreelancerId       string           `db:"freelancer_id"`
	Amount             decimal.Decimal  `db:"amount"`
	ProcessingFee      decimal.Decimal  `db:"processing_fee"`
	FinalAmount        decimal.Decimal  `db:"final_amount"`
	Currency           string           `db:"currency"`
	Method             string           `db:"method"`
	Destination        string           `db:"destination"`
	Status             WithdrawalStatus `db:"status"`
	IdempotencyKey     string           `db:"idempotency_key"`
	ProviderTransferId string           `db:"provider_transfer_id"`
	ErrorMessage       string           `db:"error_message"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
	ProcessedAt        *time.Time       `db:"processed_at"`
	CompletedAt        *time.Time       `db:"completed_at"`
	FailedAt           *time.Time       `db:"failed_at"`
}

type TransactionType string

const (
	TxEscrowFunding    TransactionType = "escrow_funding"
	TxMilestoneRelease TransactionType = "milestone_release"
	TxWithdrawal       TransactionType = "withdrawal"
	TxWithdrawalRefund TransactionType = "withdrawal_refund"
)

type TransactionStatus string

const (
	TxStatusPending    TransactionStatus = "pending"
	TxStatusProcessing TransactionStatus = "processing"
	TxStatusCompleted  TransactionStatus = "completed"
	TxStatusFailed     TransactionStatus = "failed"
)

const (
	EntityMilestone  = "milestone"
	EntityWithdrawal = "withdrawal"
	EntityContract   = "contract"
)

// TransactionLogEntry is an append-only audit record of a money movement
type TransactionLogEntry struct {
	Id                string            `db:"id"`
	Type              TransactionType   `db:"type"`
	FromParty         string            `db:"from_party"`
	ToParty           string            `db:"to_party"`
	Amount            decimal.Decimal   `db:"amount"`
	Fee               decimal.Decimal   `db:"fee"`
	NetAmount         decimal.Decimal   `db:"net_amount"`
	RelatedEntityId   string            `db:"related_entity_id"`
	RelatedEntityType string            `db:"related_entity_type"`
	Status            TransactionStatus `db:"status"`
	Description       string            `db:"description"`
	Metadata          map[string]string `db:"metadata"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
}

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxDead      OutboxStatus = "dead"
)

// Event types written to the outbox
const (
	EventEscrowFunded         = "escrow.funded"
	EventMilestoneSubmitted   = "milestone.submitted"
	EventMilestoneApproved    = "milestone.approved"
	EventMilestoneRejected    = "milestone.rejected"
	EventPaymentReleased      = "payment.released"
	EventContractCompleted    = "contract.completed"
	EventWithdrawalRequested  = "withdrawal.requested"
	EventWithdrawalProcessing = "withdrawal.processing"
	EventWithdrawalCompleted  = "withdrawal.completed"
	EventWithdrawalFailed     = "withdrawal.failed"
)

// OutboxEvent is a notification enqueued by a settlement and delivered later
type OutboxEvent struct {
	Id            string            `db:"id"`
	EventType     string            `db:"event_type"`
	EntityId      string            `db:"entity_id"`
	RecipientId   string            `db:"recipient_id"`
	Payload       map[string]string `db:"payload"`
	Status        OutboxStatus      `db:"status"`
	Attempts      int               `db:"attempts"`
	LastError     string            `db:"last_error"`
	NextAttemptAt time.Time         `db:"next_attempt_at"`
	CreatedAt     time.Time         `db:"created_at"`
	DeliveredAt   *time.Time        `db:"delivered_at"`
}
