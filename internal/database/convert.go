package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

// currencyScale is the number of fractional digits stored for every amount.
const currencyScale = 2

type rowScanner interface {
	Scan(dest ...any) error
}

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// toMinor converts a decimal amount to integer minor units, refusing values
// that would lose precision.
func toMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(currencyScale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", store.ErrInvalidAmount, d.String(), currencyScale)
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s is out of range", store.ErrInvalidAmount, d.String())
	}
	return shifted.IntPart(), nil
}

func fromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -currencyScale)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMap(raw string) (map[string]string, error) {
	m := map[string]string{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var acct models.Account
	var role string
	var pending, available int64
	err := row.Scan(&acct.Id, &acct.Name, &acct.Email, &role, &pending, &available, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acct.Role = models.AccountRole(role)
	acct.PendingBalance = fromMinor(pending)
	acct.AvailableBalance = fromMinor(available)
	return &acct, nil
}

func scanBalance(row rowScanner) (models.FreelancerBalance, error) {
	var bal models.FreelancerBalance
	var pending, available int64
	if err := row.Scan(&bal.FreelancerId, &pending, &available, &bal.UpdatedAt); err != nil {
		return models.FreelancerBalance{}, err
	}
	bal.PendingBalance = fromMinor(pending)
	bal.AvailableBalance = fromMinor(available)
	return bal, nil
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var c models.Contract
	var status string
	var total, paid, released int64
	var completedAt sql.NullTime
	err := row.Scan(&c.Id, &c.JobId, &c.ClientId, &c.FreelancerId, &c.Currency, &total, &paid, &released,
		&c.MilestoneCount, &c.CompletedMilestones, &status, &c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	c.TotalAmount = fromMinor(total)
	c.TotalPaid = fromMinor(paid)
	c.ReleasedAmount = fromMinor(released)
	c.Status = models.ContractStatus(status)
	c.CompletedAt = timePtr(completedAt)
	return &c, nil
}

func scanMilestone(row rowScanner) (*models.Milestone, error) {
	var m models.Milestone
	var amount int64
	var status, deliverables string
	var dueDate, submittedAt, approvedAt, rejectedAt sql.NullTime
	err := row.Scan(&m.Id, &m.ContractId, &m.Title, &m.Description, &amount, &m.Order, &status, &deliverables,
		&m.SubmissionNote, &m.Feedback, &dueDate, &submittedAt, &approvedAt, &rejectedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Amount = fromMinor(amount)
	m.Status = models.MilestoneStatus(status)
	if err := json.Unmarshal([]byte(deliverables), &m.Deliverables); err != nil {
		return nil, fmt.Errorf("failed to decode deliverables: %w", err)
	}
	m.DueDate = timePtr(dueDate)
	m.SubmittedAt = timePtr(submittedAt)
	m.ApprovedAt = timePtr(approvedAt)
	m.RejectedAt = timePtr(rejectedAt)
	return &m, nil
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	var amount, fee, final int64
	var status string
	var idempotencyKey sql.NullString
	var processedAt, completedAt, failedAt sql.NullTime
	err := row.Scan(&w.Id, &w.FreelancerId, &amount, &fee, &final, &w.Currency, &w.Method, &w.Destination,
		&status, &idempotencyKey, &w.ProviderTransferId, &w.ErrorMessage, &w.CreatedAt, &w.UpdatedAt,
		&processedAt, &completedAt, &failedAt)
	if err != nil {
		return nil, err
	}
	w.Amount = fromMinor(amount)
	w.ProcessingFee = fromMinor(fee)
	w.FinalAmount = fromMinor(final)
	w.Status = models.WithdrawalStatus(status)
	w.IdempotencyKey = idempotencyKey.String
	w.ProcessedAt = timePtr(processedAt)
	w.CompletedAt = timePtr(completedAt)
	w.FailedAt = timePtr(failedAt)
	return &w, nil
}

func scanTransactionLog(row rowScanner) (*models.TransactionLogEntry, error) {
	var e models.TransactionLogEntry
	var txType, status, metadata string
	var amount, fee, net int64
	err := row.Scan(&e.Id, &txType, &e.FromParty, &e.ToParty, &amount, &fee, &net, &e.RelatedEntityId,
		&e.RelatedEntityType, &status, &e.Description, &metadata, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = models.TransactionType(txType)
	e.Status = models.TransactionStatus(status)
	e.Amount = fromMinor(amount)
	e.Fee = fromMinor(fee)
	e.NetAmount = fromMinor(net)
	if e.Metadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanOutboxEvent(row rowScanner) (*models.OutboxEvent, error) {
	var ev models.OutboxEvent
	var payload, status string
	var deliveredAt sql.NullTime
	err := row.Scan(&ev.Id, &ev.EventType, &ev.EntityId, &ev.RecipientId, &payload, &status, &ev.Attempts,
		&ev.LastError, &ev.NextAttemptAt, &ev.CreatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	ev.Status = models.OutboxStatus(status)
	ev.DeliveredAt = timePtr(deliveredAt)
	if ev.Payload, err = decodeMap(payload); err != nil {
		return nil, err
	}
	return &ev, nil
}
