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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FreelancerBalance represents the withdrawable and held funds of a freelancer
type FreelancerBalance struct {
	FreelancerId     string          `json:"freelancer_id"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Total is the sum of pending and available funds
func (b FreelancerBalance) Total() decimal.Decimal {
	return b.PendingBalance.Add(b.AvailableBalance)
}

// TransactionRecord represents a transaction in a party's history
type TransactionRecord struct {
	Id          string          `json:"id"`
	Type        string          `json:"type"` // "escrow_funding", "milestone_release", "withdrawal"
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	Counterpart string          `json:"counterpart,omitempty"`
	Status      string          `json:"status"`
	Description string          `json:"description,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// ApprovalResult represents the outcome of releasing a milestone
type ApprovalResult struct {
	Milestone         *Milestone        `json:"milestone"`
	Contract          *Contract         `json:"contract"`
	Balance           FreelancerBalance `json:"balance"`
	ContractCompleted bool              `json:"contract_completed"`
	TransactionId     string            `json:"transaction_id"`
}

// ReconciliationResult compares stored balances against the transaction log
type ReconciliationResult struct {
	FreelancerId      string            `json:"freelancer_id"`
	Stored            FreelancerBalance `json:"stored"`
	ExpectedPending   decimal.Decimal   `json:"expected_pending"`
	ExpectedAvailable decimal.Decimal   `json:"expected_available"`
	Matches           bool              `json:"matches"`
}
