package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) GetWithdrawal(ctx context.Context, withdrawalId string) (*models.Withdrawal, error) {
	return getWithdrawal(ctx, s.conn(), withdrawalId)
}

func getWithdrawal(ctx context.Context, c *conn, withdrawalId string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(c.queryRow(ctx, queryGetWithdrawalById, withdrawalId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal %s", store.ErrNotFound, withdrawalId)
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func (s *Service) FindWithdrawalByIdempotencyKey(ctx context.Context, freelancerId, key string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(s.conn().queryRow(ctx, queryGetWithdrawalByIdempotencyKey, freelancerId, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal with idempotency key %s", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return w, nil
}

func (s *Service) CountActiveWithdrawals(ctx context.Context, freelancerId string) (int, error) {
	var count int
	if err := s.conn().queryRow(ctx, queryCountActiveWithdrawals, freelancerId).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active withdrawals: %w", err)
	}
	return count, nil
}

// InsertWithdrawal persists a PENDING withdrawal. The freelancer row is touched
// first so concurrent inserts for the same freelancer serialize on it, which
// keeps the active-withdrawal cap exact.
func (s *Service) InsertWithdrawal(ctx context.Context, params store.InsertWithdrawalParams) (*models.Withdrawal, error) {
	w := params.Withdrawal
	amount, err := toMinor(w.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := toMinor(w.ProcessingFee)
	if err != nil {
		return nil, err
	}
	final, err := toMinor(w.FinalAmount)
	if err != nil {
		return nil, err
	}
	id := w.Id
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	var inserted *models.Withdrawal
	err = s.withTx(ctx, func(c *conn) error {
		result, err := c.exec(ctx, queryLockAccount, now, w.FreelancerId)
		if err != nil {
			return fmt.Errorf("failed to lock freelancer: %w", err)
		}
		if ok, err := requireOneRow(result); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: freelancer %s", store.ErrNotFound, w.FreelancerId)
		}

		if params.MaxActive > 0 {
			var active int
			if err := c.queryRow(ctx, queryCountActiveWithdrawals, w.FreelancerId).Scan(&active); err != nil {
				return fmt.Errorf("failed to count active withdrawals: %w", err)
			}
			if active >= params.MaxActive {
				return fmt.Errorf("%w: %d of %d in flight", store.ErrTooManyActiveWithdrawals, active, params.MaxActive)
			}
		}

		inserted, err = scanWithdrawal(c.queryRow(ctx, queryInsertWithdrawal,
			id, w.FreelancerId, amount, fee, final, w.Currency, w.Method, w.Destination,
			nullString(w.IdempotencyKey), now, now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", store.ErrDuplicateIdempotencyKey, w.IdempotencyKey)
			}
			return fmt.Errorf("failed to insert withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal persisted",
		zap.String("withdrawal_id", inserted.Id),
		zap.String("freelancer_id", inserted.FreelancerId),
		zap.String("amount", inserted.Amount.String()),
		zap.String("method", inserted.Method))
	return inserted, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, freelancerId string, limit, offset int) ([]models.Withdrawal, error) {
	rows, err := s.conn().query(ctx, queryListWithdrawals, freelancerId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return collectWithdrawals(rows)
}

func (s *Service) ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]models.Withdrawal, error) {
	rows, err := s.conn().query(ctx, queryListWithdrawalsByStatus, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals by status: %w", err)
	}
	return collectWithdrawals(rows)
}

func collectWithdrawals(rows *sql.Rows) ([]models.Withdrawal, error) {
	defer closeRows(rows)

	var withdrawals []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawals: %w", err)
	}
	return withdrawals, nil
}

func withdrawalGuardError(ctx context.Context, c *conn, withdrawalId, action string) error {
	current, err := getWithdrawal(ctx, c, withdrawalId)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s withdrawal %s in status %s", store.ErrStateConflict, action, withdrawalId, current.Status)
}

func (s *Service) MarkWithdrawalProcessing(ctx context.Context, params store.WithdrawalProcessingParams) (*models.Withdrawal, error) {
	at := params.At.UTC()

	var w *models.Withdrawal
	err := s.withTx(ctx, func(c *conn) error {
		var err error
		w, err = scanWithdrawal(c.queryRow(ctx, queryMarkWithdrawalProcessing, params.ProviderTransferId, at, at, params.WithdrawalId))
		if errors.Is(err, sql.ErrNoRows) {
			return withdrawalGuardError(ctx, c, params.WithdrawalId, "process")
		}
		if err != nil {
			return fmt.Errorf("failed to mark withdrawal processing: %w", err)
		}

		err = updateTransactionLog(ctx, c, w.Id, models.EntityWithdrawal, store.TransactionLogPatch{
			Status:   models.TxStatusProcessing,
			Metadata: map[string]string{"provider_transfer_id": params.ProviderTransferId},
			At:       at,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) CompleteWithdrawal(ctx context.Context, params store.CompleteWithdrawalParams) (*models.Withdrawal, error) {
	at := params.At.UTC()

	var w *models.Withdrawal
	err := s.withTx(ctx, func(c *conn) error {
		var err error
		w, err = scanWithdrawal(c.queryRow(ctx, queryMarkWithdrawalCompleted, at, at, params.WithdrawalId))
		if errors.Is(err, sql.ErrNoRows) {
			return withdrawalGuardError(ctx, c, params.WithdrawalId, "complete")
		}
		if err != nil {
			return fmt.Errorf("failed to mark withdrawal completed: %w", err)
		}

		err = updateTransactionLog(ctx, c, w.Id, models.EntityWithdrawal, store.TransactionLogPatch{
			Status: models.TxStatusCompleted,
			At:     at,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// FailWithdrawal marks a withdrawal FAILED and credits its full amount back to
// the available balance. The status guard makes the refund happen at most once.
func (s *Service) FailWithdrawal(ctx context.Context, params store.FailWithdrawalParams) (*models.Withdrawal, models.FreelancerBalance, error) {
	at := params.At.UTC()

	var w *models.Withdrawal
	var balance models.FreelancerBalance
	err := s.withTx(ctx, func(c *conn) error {
		var err error
		if params.ExpectedStatus != "" {
			w, err = scanWithdrawal(c.queryRow(ctx, queryMarkWithdrawalFailedFrom,
				params.ErrorMessage, at, at, params.WithdrawalId, string(params.ExpectedStatus)))
		} else {
			w, err = scanWithdrawal(c.queryRow(ctx, queryMarkWithdrawalFailed, params.ErrorMessage, at, at, params.WithdrawalId))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return withdrawalGuardError(ctx, c, params.WithdrawalId, "fail")
		}
		if err != nil {
			return fmt.Errorf("failed to mark withdrawal failed: %w", err)
		}

		balance, err = conditionalAdjust(ctx, c, store.BalanceAdjustment{
			AccountId: w.FreelancerId,
			Field:     store.AvailableBalance,
			Delta:     w.Amount,
		}, at)
		if err != nil {
			return fmt.Errorf("failed to refund withdrawal: %w", err)
		}

		err = updateTransactionLog(ctx, c, w.Id, models.EntityWithdrawal, store.TransactionLogPatch{
			Status:      models.TxStatusFailed,
			Description: fmt.Sprintf("failed: %s; refunded %s to available balance", params.ErrorMessage, w.Amount.StringFixed(currencyScale)),
			Metadata:    map[string]string{"refunded_amount": w.Amount.StringFixed(currencyScale)},
			At:          at,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		return nil, models.FreelancerBalance{}, err
	}

	zap.L().Info("Withdrawal failed and refunded",
		zap.String("withdrawal_id", w.Id),
		zap.String("freelancer_id", w.FreelancerId),
		zap.String("refunded", w.Amount.String()),
		zap.String("available_balance", balance.AvailableBalance.String()))
	return w, balance, nil
}
