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
	"sync"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/payout"
	"escrow-settlement-go/internal/store"

	"go.uber.org/zap"
)

// WithdrawalSettler is the part of the withdrawal service the listener drives.
type WithdrawalSettler interface {
	ProcessPending(ctx context.Context, limit int) (processed, failed int, err error)
	Complete(ctx context.Context, withdrawalId string) (*models.Withdrawal, error)
	Fail(ctx context.Context, withdrawalId, errorMessage string) (*models.Withdrawal, error)
}

// PayoutListenerConfig contains configuration for PayoutListener
type PayoutListenerConfig struct {
	Provider        payout.Provider
	Withdrawals     WithdrawalSettler
	DbService       store.LedgerStore
	PollingInterval time.Duration
	CleanupInterval time.Duration
	ProcessPending  bool
	BatchSize       int
	StuckAfter      time.Duration
}

// PayoutListener polls the payout provider for withdrawals in PROCESSING and
// settles them once the provider reports a final state.
type PayoutListener struct {
	provider    payout.Provider
	withdrawals WithdrawalSettler
	dbService   store.LedgerStore

	// Withdrawals already reported as stuck, so the warning fires once per cleanup interval
	stuckReported   map[string]time.Time
	mutex           sync.RWMutex
	pollingInterval time.Duration
	cleanupInterval time.Duration
	processPending  bool
	batchSize       int
	stuckAfter      time.Duration

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewPayoutListener creates a new payout listener
func NewPayoutListener(cfg PayoutListenerConfig) *PayoutListener {
	l := &PayoutListener{
		provider:        cfg.Provider,
		withdrawals:     cfg.Withdrawals,
		dbService:       cfg.DbService,
		stuckReported:   make(map[string]time.Time),
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		processPending:  cfg.ProcessPending,
		batchSize:       cfg.BatchSize,
		stuckAfter:      cfg.StuckAfter,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
	if l.pollingInterval <= 0 {
		l.pollingInterval = 30 * time.Second
	}
	if l.cleanupInterval <= 0 {
		l.cleanupInterval = 15 * time.Minute
	}
	if l.batchSize <= 0 {
		l.batchSize = 50
	}
	if l.stuckAfter <= 0 {
		l.stuckAfter = 24 * time.Hour
	}
	return l
}

// reportStuckOnce reports whether the stuck warning for withdrawalId should be logged now
func (l *PayoutListener) reportStuckOnce(withdrawalId string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, exists := l.stuckReported[withdrawalId]; exists {
		return false
	}
	l.stuckReported[withdrawalId] = time.Now()
	return true
}

func (l *PayoutListener) forgetStuck(withdrawalId string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.stuckReported, withdrawalId)
}

// cleanupLoop periodically clears stuck reports so long-running payouts are reported again
func (l *PayoutListener) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStuckReports()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *PayoutListener) cleanupStuckReports() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := time.Now().Add(-l.cleanupInterval)
	initialCount := len(l.stuckReported)

	for id, reportedAt := range l.stuckReported {
		if reportedAt.Before(cutoff) {
			delete(l.stuckReported, id)
		}
	}

	if removed := initialCount - len(l.stuckReported); removed > 0 {
		zap.L().Debug("Cleaned up stuck withdrawal reports",
			zap.Int("removed", removed),
			zap.Int("remaining", len(l.stuckReported)))
	}
}
