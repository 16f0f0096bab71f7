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
	"time"

	"go.uber.org/zap"
)

// Start begins monitoring payouts
func (l *PayoutListener) Start(ctx context.Context) {
	go l.pollLoop(ctx)
	go l.cleanupLoop(ctx)

	zap.L().Info("Payout listener started",
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Bool("process_pending", l.processPending),
		zap.Int("batch_size", l.batchSize))
}

// Stop gracefully stops the payout listener
func (l *PayoutListener) Stop() {
	zap.L().Info("Stopping payout listener")
	close(l.stopChan)
	<-l.doneChan
	zap.L().Info("Payout listener stopped")
}

// pollLoop runs the main polling loop
func (l *PayoutListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	l.Poll(ctx)

	for {
		select {
		case <-ticker.C:
			l.Poll(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Poll runs one pass: optionally submits pending withdrawals, then settles
// processing ones whose transfers reached a final state.
func (l *PayoutListener) Poll(ctx context.Context) {
	fmt.Printf("\n%s[%s] Polling payouts%s\n", colorCyan, time.Now().Format("15:04:05"), colorReset)

	if l.processPending {
		processed, failed, err := l.withdrawals.ProcessPending(ctx, l.batchSize)
		if err != nil {
			zap.L().Error("Failed to process pending withdrawals", zap.Error(err))
		} else if processed+failed > 0 {
			fmt.Printf("  %s→ submitted %d pending, %d failed%s\n", colorYellow, processed, failed, colorReset)
		}
	}

	if err := l.syncProcessing(ctx); err != nil {
		fmt.Printf("  %s✗ %s%s\n", colorRed, err, colorReset)
		zap.L().Error("Failed to sync processing withdrawals", zap.Error(err))
	}
}
