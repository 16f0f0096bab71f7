package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"go.uber.org/zap"
)

// GetFreelancerBalance returns the stored balance snapshot for a freelancer.
// It is a read for display and validation; it is never written back.
func (s *Service) GetFreelancerBalance(ctx context.Context, freelancerId string) (models.FreelancerBalance, error) {
	bal, err := scanBalance(s.conn().queryRow(ctx, queryGetFreelancerBalance, freelancerId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FreelancerBalance{}, fmt.Errorf("%w: freelancer %s", store.ErrNotFound, freelancerId)
		}
		zap.L().Error("Failed to get balance", zap.String("freelancer_id", freelancerId), zap.Error(err))
		return models.FreelancerBalance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// ConditionalAdjust applies a single guarded update to one balance field. It
// never retries: a failed guard is reported as store.ErrGuardFailed.
func (s *Service) ConditionalAdjust(ctx context.Context, adj store.BalanceAdjustment) (models.FreelancerBalance, error) {
	return conditionalAdjust(ctx, s.conn(), adj, time.Now().UTC())
}

func conditionalAdjust(ctx context.Context, c *conn, adj store.BalanceAdjustment, at time.Time) (models.FreelancerBalance, error) {
	var query string
	switch adj.Field {
	case store.PendingBalance:
		query = queryAdjustPendingBalance
	case store.AvailableBalance:
		query = queryAdjustAvailableBalance
	default:
		return models.FreelancerBalance{}, fmt.Errorf("unknown balance field: %q", adj.Field)
	}

	delta, err := toMinor(adj.Delta)
	if err != nil {
		return models.FreelancerBalance{}, err
	}
	minimum, err := toMinor(adj.MinimumBefore)
	if err != nil {
		return models.FreelancerBalance{}, err
	}

	bal, err := scanBalance(c.queryRow(ctx, query, delta, at, adj.AccountId, delta, minimum))
	if err == nil {
		zap.L().Debug("Balance adjusted",
			zap.String("freelancer_id", adj.AccountId),
			zap.String("field", string(adj.Field)),
			zap.String("delta", adj.Delta.String()),
			zap.String("pending_balance", bal.PendingBalance.String()),
			zap.String("available_balance", bal.AvailableBalance.String()))
		return bal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.FreelancerBalance{}, fmt.Errorf("failed to adjust %s: %w", adj.Field, err)
	}

	// No row matched: either the account is missing or the guard failed.
	var exists int
	err = c.queryRow(ctx, queryFreelancerExists, adj.AccountId).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FreelancerBalance{}, fmt.Errorf("%w: freelancer %s", store.ErrNotFound, adj.AccountId)
	}
	if err != nil {
		return models.FreelancerBalance{}, fmt.Errorf("failed to check freelancer: %w", err)
	}
	return models.FreelancerBalance{}, fmt.Errorf("%w: %s %s on freelancer %s",
		store.ErrGuardFailed, adj.Field, adj.Delta.String(), adj.AccountId)
}
