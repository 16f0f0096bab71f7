/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"errors"
	"fmt"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("freelancer not found")

// GetFreelancerBalance returns the current balances for a freelancer, served
// from the cache when possible
func (s *LedgerService) GetFreelancerBalance(ctx context.Context, freelancerId string) (models.FreelancerBalance, error) {
	if freelancerId == "" {
		return models.FreelancerBalance{}, fmt.Errorf("freelancer_id is required")
	}

	if s.cache != nil {
		balance, found, err := s.cache.Get(ctx, freelancerId)
		if err != nil {
			zap.L().Warn("Balance cache read failed, falling back to database",
				zap.String("freelancer_id", freelancerId),
				zap.Error(err))
		} else if found {
			return balance, nil
		}
	}

	balance, err := s.db.GetFreelancerBalance(ctx, freelancerId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.FreelancerBalance{}, ErrNotFound
		}
		zap.L().Error("Failed to get freelancer balance",
			zap.String("freelancer_id", freelancerId),
			zap.Error(err))
		return models.FreelancerBalance{}, fmt.Errorf("failed to retrieve balance")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, balance); err != nil {
			zap.L().Warn("Failed to populate balance cache",
				zap.String("freelancer_id", freelancerId),
				zap.Error(err))
		}
	}
	return balance, nil
}

// GetTransactionHistory returns paginated transaction history for a party
func (s *LedgerService) GetTransactionHistory(ctx context.Context, partyId string, limit, offset int) ([]models.TransactionRecord, error) {
	if partyId == "" {
		return nil, fmt.Errorf("party_id is required")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.db.ListTransactionLog(ctx, partyId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("party_id", partyId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history")
	}

	result := make([]models.TransactionRecord, len(entries))
	for i, tx := range entries {
		counterpart := tx.ToParty
		if tx.ToParty == partyId {
			counterpart = tx.FromParty
		}
		result[i] = models.TransactionRecord{
			Id:          tx.Id,
			Type:        string(tx.Type),
			Amount:      tx.Amount,
			Fee:         tx.Fee,
			NetAmount:   tx.NetAmount,
			Counterpart: counterpart,
			Status:      string(tx.Status),
			Description: tx.Description,
			ProcessedAt: tx.CreatedAt,
		}
	}

	return result, nil
}

// ReconcileBalance recomputes what a freelancer's balances should be from the
// transaction log and compares them with the stored values. It always reads
// the store directly.
func (s *LedgerService) ReconcileBalance(ctx context.Context, freelancerId string) (*models.ReconciliationResult, error) {
	if freelancerId == "" {
		return nil, fmt.Errorf("freelancer_id is required")
	}

	stored, err := s.db.GetFreelancerBalance(ctx, freelancerId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unable to load balance: %w", err)
	}

	totals, err := s.db.SumTransactionLog(ctx, freelancerId)
	if err != nil {
		return nil, fmt.Errorf("unable to sum transaction log: %w", err)
	}

	result := &models.ReconciliationResult{
		FreelancerId:      freelancerId,
		Stored:            stored,
		ExpectedPending:   totals.Funded.Sub(totals.Released),
		ExpectedAvailable: totals.Released.Sub(totals.Withdrawn),
	}
	result.Matches = result.ExpectedPending.Equal(stored.PendingBalance) &&
		result.ExpectedAvailable.Equal(stored.AvailableBalance)

	if !result.Matches {
		zap.L().Error("Balance does not reconcile with transaction log",
			zap.String("freelancer_id", freelancerId),
			zap.String("stored_pending", stored.PendingBalance.String()),
			zap.String("expected_pending", result.ExpectedPending.String()),
			zap.String("stored_available", stored.AvailableBalance.String()),
			zap.String("expected_available", result.ExpectedAvailable.String()),
			zap.Bool("manual_reconciliation", true))
	}
	return result, nil
}
