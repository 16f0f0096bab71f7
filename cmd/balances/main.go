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

package main

import (
	"context"
	"flag"
	"fmt"

	"escrow-settlement-go/internal/api"
	"escrow-settlement-go/internal/common"
	"escrow-settlement-go/internal/config"
	"escrow-settlement-go/internal/formance"
	"escrow-settlement-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalFreelancers int
	withBalances     int
	mismatched       int
}

type reportOptions struct {
	currency  string
	reconcile bool
	history   int
	mirror    *formance.JournalMirror
}

func printFreelancerHeader(f common.AccountInfo) {
	fmt.Printf("\n┌─ Freelancer: %s (%s)\n", f.Name, f.Email)
	fmt.Printf("│  ID: %s\n", f.Id)
	common.PrintBoxSeparator(78)
}

func printBalance(label string, b models.FreelancerBalance, currency string, isLast bool) {
	fmt.Printf("%s %-12s pending: %18s   available: %18s   (updated: %s)\n",
		common.BoxPrefix(isLast),
		label,
		common.Money(b.PendingBalance, currency),
		common.Money(b.AvailableBalance, currency),
		b.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func processFreelancer(ctx context.Context, f common.AccountInfo, ledger *api.LedgerService, opts reportOptions, stats *balanceStats) error {
	balance, err := ledger.GetFreelancerBalance(ctx, f.Id)
	if err != nil {
		return err
	}
	if balance.Total().IsZero() && !opts.reconcile {
		return nil
	}
	stats.withBalances++

	printFreelancerHeader(f)
	printBalance("ledger", balance, opts.currency, !opts.reconcile && opts.mirror == nil && opts.history == 0)

	if opts.mirror != nil {
		mirrored, err := opts.mirror.MirroredBalance(ctx, f.Id)
		if err != nil {
			zap.L().Warn("Failed to read mirrored balance", zap.String("freelancer_id", f.Id), zap.Error(err))
		} else {
			printBalance("formance", mirrored, opts.currency, !opts.reconcile && opts.history == 0)
		}
	}

	if opts.reconcile {
		result, err := ledger.ReconcileBalance(ctx, f.Id)
		if err != nil {
			return err
		}
		status := "OK"
		if !result.Matches {
			status = "MISMATCH - manual reconciliation required"
			stats.mismatched++
		}
		fmt.Printf("%s reconcile    expected pending: %s   expected available: %s   %s\n",
			common.BoxPrefix(opts.history == 0),
			common.Money(result.ExpectedPending, opts.currency),
			common.Money(result.ExpectedAvailable, opts.currency),
			status)
	}

	if opts.history > 0 {
		records, err := ledger.GetTransactionHistory(ctx, f.Id, opts.history, 0)
		if err != nil {
			return err
		}
		for i, r := range records {
			fmt.Printf("%s %s  %-18s %-10s %14s  %s\n",
				common.BoxPrefix(i == len(records)-1),
				r.ProcessedAt.Format("2006-01-02 15:04"),
				r.Type,
				r.Status,
				common.Money(r.NetAmount, opts.currency),
				r.Description)
		}
	}
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific freelancer email (optional)")
	reconcileFlag := flag.Bool("reconcile", false, "Recompute balances from the transaction log and flag drift")
	historyFlag := flag.Int("history", 0, "Show the last N transaction log entries per freelancer")
	mirrorFlag := flag.Bool("mirror", false, "Also show balances from the Formance journal mirror")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no payout provider or sinks needed
	logger.Info("Connecting to database", zap.String("driver", cfg.Database.Driver))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	opts := reportOptions{
		currency:  cfg.Settlement.Currency,
		reconcile: *reconcileFlag,
		history:   *historyFlag,
	}
	if *mirrorFlag {
		opts.mirror, err = formance.NewJournalMirror(ctx, cfg.Formance, cfg.Settlement.Currency)
		if err != nil {
			logger.Fatal("Failed to connect to Formance", zap.Error(err))
		}
	}

	freelancers, err := common.InitializeAccounts(ctx, dbService, *emailFlag, models.RoleFreelancer, logger)
	if err != nil {
		logger.Fatal("Failed to load freelancers", zap.Error(err))
	}

	ledger := api.NewLedgerService(dbService, nil)

	common.PrintHeader("FREELANCER BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, f := range freelancers {
		stats.totalFreelancers++
		if err := processFreelancer(ctx, f, ledger, opts, &stats); err != nil {
			logger.Error("Failed to process freelancer",
				zap.String("freelancer_id", f.Id),
				zap.String("freelancer_name", f.Name),
				zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d freelancers with balances (%d queried)", stats.withBalances, stats.totalFreelancers)
	if opts.reconcile {
		summary += fmt.Sprintf(", %d not reconciling", stats.mismatched)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("freelancers_queried", stats.totalFreelancers),
		zap.Int("with_balances", stats.withBalances),
		zap.Int("mismatched", stats.mismatched))
}
