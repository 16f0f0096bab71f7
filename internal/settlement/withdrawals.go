package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/payout"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultMaxActiveWithdrawals = 3

type WithdrawalServiceConfig struct {
	Dependencies
	Provider             payout.Provider
	Fees                 *FeeSchedule
	Currency             string
	MinimumPayout        decimal.Decimal
	MaxActiveWithdrawals int
	AutoProcess          bool
}

// WithdrawalService moves money out of a freelancer's available balance and
// through the payout provider.
type WithdrawalService struct {
	base
	provider    payout.Provider
	fees        *FeeSchedule
	currency    string
	minPayout   decimal.Decimal
	maxActive   int
	autoProcess bool
}

func NewWithdrawalService(cfg WithdrawalServiceConfig) *WithdrawalService {
	fees := cfg.Fees
	if fees == nil {
		fees = DefaultFeeSchedule()
	}
	provider := cfg.Provider
	if provider == nil {
		provider = payout.Manual{}
	}
	maxActive := cfg.MaxActiveWithdrawals
	if maxActive <= 0 {
		maxActive = defaultMaxActiveWithdrawals
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &WithdrawalService{
		base:        newBase(cfg.Dependencies),
		provider:    provider,
		fees:        fees,
		currency:    currency,
		minPayout:   cfg.MinimumPayout,
		maxActive:   maxActive,
		autoProcess: cfg.AutoProcess,
	}
}

type WithdrawalRequest struct {
	FreelancerId   string
	Amount         decimal.Decimal
	Method         string
	Destination    string
	IdempotencyKey string // optional
}

type ProcessOptions struct {
	// ProcessingFee, when set, must match the fee fixed at request time.
	ProcessingFee *decimal.Decimal
}

// Quote returns the fee and the amount that would be paid out.
func (s *WithdrawalService) Quote(method string, amount decimal.Decimal) (fee, final decimal.Decimal, err error) {
	m, ok := s.fees.Method(method)
	if !ok {
		return decimal.Zero, decimal.Zero, failure(ErrValidation, "unknown payout method %q", method)
	}
	fee = m.Fee(amount)
	return fee, amount.Sub(fee), nil
}

// Request reserves amount from the freelancer's available balance and records
// a PENDING withdrawal. A repeated idempotency key returns the original
// withdrawal without moving money again.
func (s *WithdrawalService) Request(ctx context.Context, req WithdrawalRequest) (w *models.Withdrawal, err error) {
	defer func(start time.Time) { s.observe("request_withdrawal", start, err) }(time.Now())

	if !validAmount(req.Amount) {
		return nil, failure(ErrValidation, "withdrawal amount must be positive with at most two decimals, got %s", req.Amount)
	}
	method, ok := s.fees.Method(req.Method)
	if !ok {
		return nil, failure(ErrValidation, "unknown payout method %q", req.Method)
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, failure(ErrValidation, "payout destination is required")
	}
	if _, err := s.account(ctx, req.FreelancerId, models.RoleFreelancer); err != nil {
		return nil, err
	}

	// 1. Idempotent replay
	if req.IdempotencyKey != "" {
		existing, err := s.store.FindWithdrawalByIdempotencyKey(ctx, req.FreelancerId, req.IdempotencyKey)
		if err == nil {
			zap.L().Info("Returning existing withdrawal for idempotency key",
				zap.String("withdrawal_id", existing.Id),
				zap.String("idempotency_key", req.IdempotencyKey))
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fromStore(err, "look up idempotency key")
		}
	}

	// 2. In-flight cap
	active, err := s.store.CountActiveWithdrawals(ctx, req.FreelancerId)
	if err != nil {
		return nil, fromStore(err, "count active withdrawals")
	}
	if active >= s.maxActive {
		return nil, failure(ErrTooManyActiveWithdrawals, "%d of %d allowed are still in progress; wait for one to finish", active, s.maxActive)
	}

	// 3. Balance precheck
	balance, err := s.store.GetFreelancerBalance(ctx, req.FreelancerId)
	if err != nil {
		return nil, fromStore(err, "load balance")
	}
	if balance.AvailableBalance.LessThan(req.Amount) {
		return nil, failure(ErrInsufficientAvailableBalance, "need %s, have %s", money(req.Amount), money(balance.AvailableBalance))
	}

	// 4. Fees
	fee := method.Fee(req.Amount)
	final := req.Amount.Sub(fee)
	if !final.IsPositive() || final.LessThan(s.minPayout) {
		return nil, failure(ErrBelowMinimumPayout, "%s after a %s fee is less than the %s minimum", money(final), money(fee), money(s.minPayout))
	}

	// 5. Reserve
	if _, err := s.store.ConditionalAdjust(ctx, store.BalanceAdjustment{
		AccountId:     req.FreelancerId,
		Field:         store.AvailableBalance,
		Delta:         req.Amount.Neg(),
		MinimumBefore: req.Amount,
	}); err != nil {
		if errors.Is(err, store.ErrGuardFailed) {
			return nil, failure(ErrConcurrentBalanceConflict, "available balance changed while reserving %s; retry the request", money(req.Amount))
		}
		return nil, fromStore(err, "reserve withdrawal amount")
	}
	s.invalidate(ctx, req.FreelancerId)

	// 6. Persist, reversing the reservation on failure
	w, err = s.store.InsertWithdrawal(ctx, store.InsertWithdrawalParams{
		Withdrawal: &models.Withdrawal{
			Id:             uuid.New().String(),
			FreelancerId:   req.FreelancerId,
			Amount:         req.Amount,
			ProcessingFee:  fee,
			FinalAmount:    final,
			Currency:       s.currency,
			Method:         method.Name,
			Destination:    req.Destination,
			IdempotencyKey: req.IdempotencyKey,
		},
		MaxActive: s.maxActive,
	})
	if err != nil {
		s.reverseReservation(ctx, req, err)
		switch {
		case errors.Is(err, store.ErrDuplicateIdempotencyKey):
			existing, lookupErr := s.store.FindWithdrawalByIdempotencyKey(ctx, req.FreelancerId, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, fromStore(lookupErr, "load concurrent withdrawal")
			}
			return existing, nil
		case errors.Is(err, store.ErrTooManyActiveWithdrawals):
			return nil, failure(ErrTooManyActiveWithdrawals, "%d allowed are already in progress; wait for one to finish", s.maxActive)
		default:
			return nil, fromStore(err, "persist withdrawal")
		}
	}

	// 7. Audit and notify. The withdrawal row is the source of truth, so
	// failures here are logged and do not undo the request.
	if _, err := s.store.AppendTransactionLog(ctx, models.TransactionLogEntry{
		Type:              models.TxWithdrawal,
		FromParty:         w.FreelancerId,
		ToParty:           "payout:" + w.Method,
		Amount:            w.Amount,
		Fee:               w.ProcessingFee,
		NetAmount:         w.FinalAmount,
		RelatedEntityId:   w.Id,
		RelatedEntityType: models.EntityWithdrawal,
		Status:            models.TxStatusPending,
		Description:       "Withdrawal via " + w.Method,
		Metadata:          entryMetadata(ctx, map[string]string{"destination": w.Destination}),
	}); err != nil {
		zap.L().Error("Failed to append withdrawal to transaction log",
			zap.String("withdrawal_id", w.Id),
			zap.Error(err))
	}
	now := s.now()
	if err := s.store.EnqueueEvents(ctx, newEvent(models.EventWithdrawalRequested, w.Id, w.FreelancerId, now, withdrawalPayload(w))); err != nil {
		zap.L().Error("Failed to enqueue withdrawal notification",
			zap.String("withdrawal_id", w.Id),
			zap.Error(err))
	}

	// 8. Auto-process
	if method.ProviderRouted && s.autoProcess {
		return s.Process(ctx, w.Id, ProcessOptions{})
	}
	return w, nil
}

func (s *WithdrawalService) reverseReservation(ctx context.Context, req WithdrawalRequest, cause error) {
	if _, err := s.store.ConditionalAdjust(ctx, store.BalanceAdjustment{
		AccountId: req.FreelancerId,
		Field:     store.AvailableBalance,
		Delta:     req.Amount,
	}); err != nil {
		s.escalate("reservation_reversal", "Failed to reverse withdrawal reservation",
			zap.String("freelancer_id", req.FreelancerId),
			zap.String("amount", req.Amount.String()),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.metrics.IncRefund()
	s.invalidate(ctx, req.FreelancerId)
	zap.L().Warn("Withdrawal reservation reversed",
		zap.String("freelancer_id", req.FreelancerId),
		zap.String("amount", req.Amount.String()),
		zap.Error(cause))
}

// Process sends a PENDING withdrawal to the payout provider. Methods that are
// not provider-routed move straight to PROCESSING for a manual payout. When
// the provider call fails a still-PENDING withdrawal is failed and refunded and
// the refunded record is returned together with the error.
func (s *WithdrawalService) Process(ctx context.Context, withdrawalId string, opts ProcessOptions) (w *models.Withdrawal, err error) {
	defer func(start time.Time) { s.observe("process_withdrawal", start, err) }(time.Now())

	w, err = s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, fromStore(err, "load withdrawal")
	}
	if w.Status != models.WithdrawalPending {
		return nil, failure(ErrInvalidTransition, "cannot process withdrawal in status %s", w.Status)
	}
	if opts.ProcessingFee != nil && !opts.ProcessingFee.Equal(w.ProcessingFee) {
		return nil, failure(ErrValidation, "processing fee is fixed at %s, got %s", money(w.ProcessingFee), money(*opts.ProcessingFee))
	}

	method, _ := s.fees.Method(w.Method)
	transferId := "manual:" + w.Id
	if method.ProviderRouted {
		transferId, err = s.provider.CreateTransfer(ctx, payout.TransferRequest{
			Amount:         w.FinalAmount,
			Destination:    w.Destination,
			Currency:       w.Currency,
			IdempotencyKey: w.Id,
			Metadata: map[string]string{
				"withdrawal_id": w.Id,
				"freelancer_id": w.FreelancerId,
				"method":        w.Method,
			},
		})
		if err != nil {
			failed, failErr := s.fail(ctx, w, "payout provider error: "+err.Error(), models.WithdrawalPending)
			if errors.Is(failErr, ErrConcurrentConflict) {
				// Another worker already moved it on; nothing is refunded.
				return s.current(ctx, w.Id, failure(ErrConcurrentConflict,
					"withdrawal %s was processed concurrently, provider error ignored: %v", w.Id, err))
			}
			if failErr != nil {
				return nil, fmt.Errorf("%w: withdrawal could not be refunded after provider error %v: %w", ErrProvider, err, failErr)
			}
			return failed, failure(ErrProvider, "withdrawal failed, balance refunded: %v", err)
		}
	}

	now := s.now()
	updated, err := s.store.MarkWithdrawalProcessing(ctx, store.WithdrawalProcessingParams{
		WithdrawalId:       w.Id,
		ProviderTransferId: transferId,
		At:                 now,
		Events: []models.OutboxEvent{
			newEvent(models.EventWithdrawalProcessing, w.Id, w.FreelancerId, now, withdrawalPayload(w)),
		},
	})
	if err != nil {
		if method.ProviderRouted && !s.ownsTransfer(ctx, w.Id, transferId) {
			s.escalate("transfer_without_withdrawal", "Provider transfer created but withdrawal could not be marked processing",
				zap.String("withdrawal_id", w.Id),
				zap.String("transfer_id", transferId),
				zap.Error(err))
		}
		return nil, fromStore(err, "mark withdrawal processing")
	}
	return updated, nil
}

// ownsTransfer reports whether the withdrawal already records transferId, which
// happens when a concurrent Process won with the same idempotency key.
func (s *WithdrawalService) ownsTransfer(ctx context.Context, withdrawalId, transferId string) bool {
	current, err := s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil || current.ProviderTransferId != transferId {
		return false
	}
	zap.L().Info("Withdrawal already processed by a concurrent worker",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("transfer_id", transferId),
		zap.String("status", string(current.Status)))
	return true
}

// current returns the stored withdrawal alongside cause.
func (s *WithdrawalService) current(ctx context.Context, withdrawalId string, cause error) (*models.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, cause
	}
	return w, cause
}

// ProcessPending processes up to limit PENDING provider-routed withdrawals.
// Manual methods are left for an operator.
func (s *WithdrawalService) ProcessPending(ctx context.Context, limit int) (processed, failed int, err error) {
	pending, err := s.store.ListWithdrawalsByStatus(ctx, models.WithdrawalPending, limit)
	if err != nil {
		return 0, 0, fromStore(err, "list pending withdrawals")
	}
	for _, w := range pending {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}
		if m, ok := s.fees.Method(w.Method); !ok || !m.ProviderRouted {
			continue
		}
		if _, err := s.Process(ctx, w.Id, ProcessOptions{}); err != nil {
			failed++
			zap.L().Warn("Failed to process pending withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.Error(err))
			continue
		}
		processed++
	}
	return processed, failed, nil
}

// Complete confirms that the provider paid out a PROCESSING withdrawal.
func (s *WithdrawalService) Complete(ctx context.Context, withdrawalId string) (w *models.Withdrawal, err error) {
	defer func(start time.Time) { s.observe("complete_withdrawal", start, err) }(time.Now())

	w, err = s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, fromStore(err, "load withdrawal")
	}
	if w.Status != models.WithdrawalProcessing {
		return nil, failure(ErrInvalidTransition, "cannot complete withdrawal in status %s", w.Status)
	}
	now := s.now()
	updated, err := s.store.CompleteWithdrawal(ctx, store.CompleteWithdrawalParams{
		WithdrawalId: withdrawalId,
		At:           now,
		Events: []models.OutboxEvent{
			newEvent(models.EventWithdrawalCompleted, w.Id, w.FreelancerId, now, withdrawalPayload(w)),
		},
	})
	if err != nil {
		return nil, fromStore(err, "complete withdrawal")
	}
	return updated, nil
}

// Fail marks a PENDING or PROCESSING withdrawal FAILED and refunds its full
// amount to the available balance.
func (s *WithdrawalService) Fail(ctx context.Context, withdrawalId, errorMessage string) (w *models.Withdrawal, err error) {
	defer func(start time.Time) { s.observe("fail_withdrawal", start, err) }(time.Now())

	if strings.TrimSpace(errorMessage) == "" {
		return nil, failure(ErrValidation, "a failure reason is required")
	}
	w, err = s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, fromStore(err, "load withdrawal")
	}
	return s.fail(ctx, w, errorMessage, "")
}

// Cancel lets the owner abandon a withdrawal that has not reached the provider.
func (s *WithdrawalService) Cancel(ctx context.Context, withdrawalId, freelancerId string) (*models.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, fromStore(err, "load withdrawal")
	}
	if w.FreelancerId != freelancerId {
		return nil, failure(ErrForbidden, "withdrawal %s belongs to another freelancer", withdrawalId)
	}
	if w.Status != models.WithdrawalPending {
		return nil, failure(ErrInvalidTransition, "only pending withdrawals can be cancelled, this one is %s", w.Status)
	}
	failed, err := s.fail(ctx, w, "cancelled by freelancer", models.WithdrawalPending)
	if errors.Is(err, ErrConcurrentConflict) {
		return s.current(ctx, w.Id, err)
	}
	return failed, err
}

// fail refunds w. from restricts the transition to that status; empty accepts
// any non-terminal status.
func (s *WithdrawalService) fail(ctx context.Context, w *models.Withdrawal, errorMessage string, from models.WithdrawalStatus) (*models.Withdrawal, error) {
	if w.Status.Terminal() {
		return nil, failure(ErrInvalidTransition, "cannot fail withdrawal in status %s", w.Status)
	}
	now := s.now()
	payload := withdrawalPayload(w)
	payload["reason"] = errorMessage
	failed, _, err := s.store.FailWithdrawal(ctx, store.FailWithdrawalParams{
		WithdrawalId:   w.Id,
		ExpectedStatus: from,
		ErrorMessage:   errorMessage,
		At:             now,
		Events: []models.OutboxEvent{
			newEvent(models.EventWithdrawalFailed, w.Id, w.FreelancerId, now, payload),
		},
	})
	if err != nil {
		return nil, fromStore(err, "fail withdrawal")
	}
	s.metrics.IncRefund()
	s.invalidate(ctx, w.FreelancerId)
	return failed, nil
}

func withdrawalPayload(w *models.Withdrawal) map[string]string {
	return map[string]string{
		"withdrawal_id":  w.Id,
		"freelancer_id":  w.FreelancerId,
		"amount":         w.Amount.StringFixed(currencyScale),
		"processing_fee": w.ProcessingFee.StringFixed(currencyScale),
		"final_amount":   w.FinalAmount.StringFixed(currencyScale),
		"currency":       w.Currency,
		"method":         w.Method,
	}
}
