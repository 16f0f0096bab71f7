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
	"fmt"

	"escrow-settlement-go/internal/models"

	"go.uber.org/zap"
)

// GetWithdrawals returns a freelancer's withdrawals, newest first
func (s *LedgerService) GetWithdrawals(ctx context.Context, freelancerId string, limit, offset int) ([]models.Withdrawal, error) {
	if freelancerId == "" {
		return nil, fmt.Errorf("freelancer_id is required")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	withdrawals, err := s.db.ListWithdrawals(ctx, freelancerId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to list withdrawals",
			zap.String("freelancer_id", freelancerId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve withdrawals")
	}
	return withdrawals, nil
}

// GetMilestones returns a contract's milestones in display order
func (s *LedgerService) GetMilestones(ctx context.Context, contractId string) (*models.Contract, []models.Milestone, error) {
	if contractId == "" {
		return nil, nil, fmt.Errorf("contract_id is required")
	}

	contract, err := s.db.GetContract(ctx, contractId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve contract: %w", err)
	}
	milestones, err := s.db.ListMilestones(ctx, contractId)
	if err != nil {
		zap.L().Error("Failed to list milestones",
			zap.String("contract_id", contractId),
			zap.Error(err))
		return nil, nil, fmt.Errorf("failed to retrieve milestones")
	}
	return contract, milestones, nil
}
