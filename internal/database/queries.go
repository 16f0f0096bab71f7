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

package database

const (
	accountColumns = `id, name, email, role, pending_balance, available_balance, created_at, updated_at`

	contractColumns = `id, job_id, client_id, freelancer_id, currency, total_amount, total_paid, released_amount,
		milestone_count, completed_milestones, status, created_at, updated_at, completed_at`

	milestoneColumns = `id, contract_id, title, description, amount, sort_order, status, deliverables,
		submission_note, feedback, due_date, submitted_at, approved_at, rejected_at, created_at, updated_at`

	withdrawalColumns = `id, freelancer_id, amount, processing_fee, final_amount, currency, method, destination,
		status, idempotency_key, provider_transfer_id, error_message, created_at, updated_at,
		processed_at, completed_at, failed_at`

	transactionLogColumns = `id, type, from_party, to_party, amount, fee, net_amount, related_entity_id,
		related_entity_type, status, description, metadata, created_at, updated_at`

	outboxColumns = `id, event_type, entity_id, recipient_id, payload, status, attempts, last_error,
		next_attempt_at, created_at, delivered_at`
)

const (
	// Account queries
	queryInsertAccount = `
		INSERT INTO accounts (id, name, email, role, pending_balance, available_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		RETURNING ` + accountColumns

	queryInsertDummyAccount = `
		INSERT INTO accounts (id, name, email, role, pending_balance, available_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT (email) DO NOTHING`

	queryGetAccountById = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = ?`

	queryGetAccountByEmail = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE email = ?`

	queryListAccountsByRole = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE ? = '' OR role = ?
		ORDER BY created_at`

	queryFreelancerExists = `
		SELECT 1 FROM accounts WHERE id = ? AND role = 'freelancer'`

	queryLockAccount = `
		UPDATE accounts SET updated_at = ? WHERE id = ? AND role = 'freelancer'`

	// Balance queries. Each guarded update is a single statement: the new
	// value is computed by the storage engine and the guard is evaluated
	// against the value present at the moment of the write.
	queryGetFreelancerBalance = `
		SELECT id, pending_balance, available_balance, updated_at
		FROM accounts
		WHERE id = ? AND role = 'freelancer'`

	queryAdjustPendingBalance = `
		UPDATE accounts
		SET pending_balance = pending_balance + ?, updated_at = ?
		WHERE id = ? AND role = 'freelancer'
		  AND pending_balance + ? >= 0
		  AND pending_balance >= ?
		RETURNING id, pending_balance, available_balance, updated_at`

	queryAdjustAvailableBalance = `
		UPDATE accounts
		SET available_balance = available_balance + ?, updated_at = ?
		WHERE id = ? AND role = 'freelancer'
		  AND available_balance + ? >= 0
		  AND available_balance >= ?
		RETURNING id, pending_balance, available_balance, updated_at`

	// Job queries
	queryInsertJob = `
		INSERT INTO jobs (id, status) VALUES (?, 'IN_PROGRESS')
		ON CONFLICT (id) DO NOTHING`

	queryMarkJobCompleted = `
		INSERT INTO jobs (id, status, completed_at) VALUES (?, 'COMPLETED', ?)
		ON CONFLICT (id) DO UPDATE SET status = 'COMPLETED', completed_at = excluded.completed_at`

	// Contract queries
	queryInsertContract = `
		INSERT INTO contracts (id, job_id, client_id, freelancer_id, currency, total_amount, total_paid,
			released_amount, milestone_count, completed_milestones, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 'ACTIVE', ?, ?)
		RETURNING ` + contractColumns

	queryGetContractById = `
		SELECT ` + contractColumns + `
		FROM contracts
		WHERE id = ?`

	queryFundContract = `
		UPDATE contracts
		SET total_paid = total_paid + ?, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE' AND total_paid + ? <= total_amount
		RETURNING ` + contractColumns

	queryReleaseContractEscrow = `
		UPDATE contracts
		SET released_amount = released_amount + ?,
		    completed_milestones = completed_milestones + 1,
		    updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'
		  AND total_paid > 0
		  AND total_amount - released_amount >= ?
		RETURNING ` + contractColumns

	queryCompleteContract = `
		UPDATE contracts
		SET status = 'COMPLETED', completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'
		  AND milestone_count > 0
		  AND completed_milestones = milestone_count`

	queryIncrementMilestoneCount = `
		UPDATE contracts
		SET milestone_count = milestone_count + 1, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'`

	queryDecrementMilestoneCount = `
		UPDATE contracts
		SET milestone_count = milestone_count - 1, updated_at = ?
		WHERE id = ? AND milestone_count > 0
		RETURNING ` + contractColumns

	// Milestone queries
	queryNextMilestoneOrder = `
		SELECT COALESCE(MAX(sort_order), 0) + 1 FROM milestones WHERE contract_id = ?`

	queryInsertMilestone = `
		INSERT INTO milestones (id, contract_id, title, description, amount, sort_order, status, deliverables,
			submission_note, feedback, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'PENDING', '[]', '', '', ?, ?, ?)
		RETURNING ` + milestoneColumns

	queryGetMilestoneById = `
		SELECT ` + milestoneColumns + `
		FROM milestones
		WHERE id = ?`

	queryListMilestones = `
		SELECT ` + milestoneColumns + `
		FROM milestones
		WHERE contract_id = ?
		ORDER BY sort_order`

	queryStartMilestone = `
		UPDATE milestones
		SET status = 'IN_PROGRESS', updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'REJECTED')
		RETURNING ` + milestoneColumns

	querySubmitMilestone = `
		UPDATE milestones
		SET status = 'SUBMITTED', deliverables = ?, submission_note = ?, submitted_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'IN_PROGRESS')
		RETURNING ` + milestoneColumns

	queryRejectMilestone = `
		UPDATE milestones
		SET status = 'REJECTED', feedback = ?, rejected_at = ?, updated_at = ?
		WHERE id = ? AND status = 'SUBMITTED'
		RETURNING ` + milestoneColumns

	queryApproveMilestone = `
		UPDATE milestones
		SET status = 'APPROVED', approved_at = ?, updated_at = ?
		WHERE id = ? AND status = 'SUBMITTED'
		RETURNING ` + milestoneColumns

	queryUpdateMilestoneDetails = `
		UPDATE milestones
		SET title = ?, description = ?, due_date = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('SUBMITTED', 'APPROVED')`

	queryUpdateMilestoneAmount = `
		UPDATE milestones
		SET amount = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`

	queryParkMilestoneOrder = `
		UPDATE milestones SET sort_order = -sort_order
		WHERE id = ? AND contract_id = ? AND sort_order > 0 AND status NOT IN ('SUBMITTED', 'APPROVED')`

	querySetMilestoneOrder = `
		UPDATE milestones SET sort_order = ?, updated_at = ? WHERE id = ? AND contract_id = ?`

	queryDeleteMilestone = `
		DELETE FROM milestones
		WHERE id = ? AND status NOT IN ('SUBMITTED', 'APPROVED')
		RETURNING contract_id`

	// Withdrawal queries
	queryGetWithdrawalById = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE id = ?`

	queryGetWithdrawalByIdempotencyKey = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE freelancer_id = ? AND idempotency_key = ?`

	queryCountActiveWithdrawals = `
		SELECT COUNT(*) FROM withdrawals
		WHERE freelancer_id = ? AND status IN ('PENDING', 'PROCESSING')`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (id, freelancer_id, amount, processing_fee, final_amount, currency, method,
			destination, status, idempotency_key, provider_transfer_id, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'PENDING', ?, '', '', ?, ?)
		RETURNING ` + withdrawalColumns

	queryListWithdrawals = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE freelancer_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryListWithdrawalsByStatus = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`

	queryMarkWithdrawalProcessing = `
		UPDATE withdrawals
		SET status = 'PROCESSING', provider_transfer_id = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'
		RETURNING ` + withdrawalColumns

	queryMarkWithdrawalCompleted = `
		UPDATE withdrawals
		SET status = 'COMPLETED', completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PROCESSING'
		RETURNING ` + withdrawalColumns

	queryMarkWithdrawalFailed = `
		UPDATE withdrawals
		SET status = 'FAILED', error_message = ?, failed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'PROCESSING')
		RETURNING ` + withdrawalColumns

	queryMarkWithdrawalFailedFrom = `
		UPDATE withdrawals
		SET status = 'FAILED', error_message = ?, failed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING ` + withdrawalColumns

	// Transaction log queries
	queryInsertTransactionLog = `
		INSERT INTO transaction_log (id, type, from_party, to_party, amount, fee, net_amount, related_entity_id,
			related_entity_type, status, description, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransactionLogByEntity = `
		SELECT id, description, metadata
		FROM transaction_log
		WHERE related_entity_id = ? AND related_entity_type = ?`

	queryUpdateTransactionLog = `
		UPDATE transaction_log
		SET status = ?, description = ?, metadata = ?, updated_at = ?
		WHERE id = ?`

	queryListTransactionLog = `
		SELECT ` + transactionLogColumns + `
		FROM transaction_log
		WHERE from_party = ? OR to_party = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	querySumTransactionLog = `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'escrow_funding' THEN net_amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = 'milestone_release' THEN net_amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = 'withdrawal' AND status <> 'failed' THEN amount ELSE 0 END), 0)
		FROM transaction_log
		WHERE (to_party = ? AND type IN ('escrow_funding', 'milestone_release'))
		   OR (from_party = ? AND type = 'withdrawal')`

	// Outbox queries
	queryInsertOutboxEvent = `
		INSERT INTO outbox_events (id, event_type, entity_id, recipient_id, payload, status, attempts,
			last_error, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, '', ?, ?)
		ON CONFLICT (id) DO NOTHING`

	queryFetchDueOutboxEvents = `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at, created_at
		LIMIT ?`

	queryMarkOutboxDelivered = `
		UPDATE outbox_events
		SET status = 'delivered', delivered_at = ?, attempts = attempts + 1, last_error = ''
		WHERE id = ? AND status = 'pending'`

	queryMarkOutboxFailed = `
		UPDATE outbox_events
		SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ? AND status = 'pending'`
)
