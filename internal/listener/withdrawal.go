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

package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escrow-settlement-go/internal/models"

	"go.uber.org/zap"
)

func (l *PayoutListener) syncProcessing(ctx context.Context) error {
	processing, err := l.dbService.ListWithdrawalsByStatus(ctx, models.WithdrawalProcessing, l.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list processing withdrawals: %w", err)
	}

	for _, w := range processing {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.syncWithdrawal(ctx, w); err != nil {
			fmt.Printf("  %s✗ %s %s | %s%s\n", colorRed, shortId(w.Id), w.FinalAmount.StringFixed(2), err, colorReset)
			zap.L().Error("Failed to sync withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.String("transfer_id", w.ProviderTransferId),
				zap.Error(err))
		}
	}
	return nil
}

// syncWithdrawal applies the provider's view of one PROCESSING withdrawal.
// Manual payouts are confirmed by an operator and are only checked for age.
func (l *PayoutListener) syncWithdrawal(ctx context.Context, w models.Withdrawal) error {
	if w.ProviderTransferId == "" || strings.HasPrefix(w.ProviderTransferId, "manual:") {
		l.checkStuck(w)
		return nil
	}

	status, err := l.provider.TransferStatus(ctx, w.ProviderTransferId)
	if err != nil {
		return fmt.Errorf("failed to fetch transfer status: %w", err)
	}

	switch status.State {
	case models.TransferCompleted:
		if _, err := l.withdrawals.Complete(ctx, w.Id); err != nil {
			return fmt.Errorf("failed to complete withdrawal: %w", err)
		}
		l.forgetStuck(w.Id)
		fmt.Printf("  %s✓ %s %s %s paid out%s\n", colorGreen, shortId(w.Id), w.FinalAmount.StringFixed(2), w.Currency, colorReset)
	case models.TransferFailed:
		reason := status.Reason
		if reason == "" {
			reason = "payout provider reported " + status.ProviderStatus
		}
		if _, err := l.withdrawals.Fail(ctx, w.Id, reason); err != nil {
			return fmt.Errorf("failed to fail withdrawal: %w", err)
		}
		l.forgetStuck(w.Id)
		fmt.Printf("  %s✗ %s %s refunded: %s%s\n", colorYellow, shortId(w.Id), w.Amount.StringFixed(2), reason, colorReset)
	default:
		zap.L().Debug("Transfer still in flight",
			zap.String("withdrawal_id", w.Id),
			zap.String("provider_status", status.ProviderStatus))
		l.checkStuck(w)
	}
	return nil
}

func (l *PayoutListener) checkStuck(w models.Withdrawal) {
	since := w.UpdatedAt
	if w.ProcessedAt != nil {
		since = *w.ProcessedAt
	}
	if time.Since(since) < l.stuckAfter || !l.reportStuckOnce(w.Id) {
		return
	}
	zap.L().Warn("Withdrawal has been processing for too long",
		zap.String("withdrawal_id", w.Id),
		zap.String("method", w.Method),
		zap.String("transfer_id", w.ProviderTransferId),
		zap.Duration("age", time.Since(since)))
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
