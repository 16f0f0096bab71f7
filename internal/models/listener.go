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

import "time"

// TransferState is the provider-side state of a payout transfer
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferCompleted TransferState = "completed"
	TransferFailed    TransferState = "failed"
)

// TransferStatus is the latest status reported by a payout provider
type TransferStatus struct {
	TransferId     string        `json:"transfer_id"`
	State          TransferState `json:"state"`
	ProviderStatus string        `json:"provider_status"`
	Reason         string        `json:"reason,omitempty"`
	CompletedAt    time.Time     `json:"completed_at"`
}
