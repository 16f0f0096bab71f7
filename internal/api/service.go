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
	"escrow-settlement-go/internal/store"
)

// BalanceCache is the read-through cache in front of the ledger store.
type BalanceCache interface {
	Get(ctx context.Context, freelancerId string) (models.FreelancerBalance, bool, error)
	Set(ctx context.Context, balance models.FreelancerBalance) error
}

// LedgerService provides the read side of the ledger
type LedgerService struct {
	db    store.LedgerStore
	cache BalanceCache
}

// NewLedgerService builds the facade. cache may be nil.
func NewLedgerService(db store.LedgerStore, cache BalanceCache) *LedgerService {
	return &LedgerService{
		db:    db,
		cache: cache,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	_, err := s.db.ListAccounts(ctx, models.RoleFreelancer)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
