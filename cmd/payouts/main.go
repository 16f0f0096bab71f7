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
	"os"

	"escrow-settlement-go/internal/common"
	"escrow-settlement-go/internal/config"
	"escrow-settlement-go/internal/listener"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	statusFlag := flag.String("list", "", "List withdrawals with this status (PENDING, PROCESSING, COMPLETED, FAILED)")
	processFlag := flag.String("process", "", "Send the PENDING withdrawal with this id to the payout provider")
	feeFlag := flag.String("fee", "", "Processing fee the operator expects for --process (must match the fee schedule)")
	pendingFlag := flag.Int("process-pending", 0, "Send up to N PENDING provider-routed withdrawals")
	completeFlag := flag.String("complete", "", "Mark the PROCESSING withdrawal with this id as paid")
	failFlag := flag.String("fail", "", "Fail the withdrawal with this id and refund the freelancer")
	reasonFlag := flag.String("reason", "", "Failure reason for --fail")
	syncFlag := flag.Bool("sync", false, "Run one payout listener poll against the provider")
	limitFlag := flag.Int("limit", 50, "Maximum rows for --list")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()
	ctx = common.CommandContext(ctx, "operator")

	switch {
	case *statusFlag != "":
		err = listWithdrawals(ctx, services, models.WithdrawalStatus(*statusFlag), *limitFlag)
	case *processFlag != "":
		opts := settlement.ProcessOptions{}
		if *feeFlag != "" {
			fee, parseErr := decimal.NewFromString(*feeFlag)
			if parseErr != nil {
				zap.L().Fatal("Invalid --fee", zap.Error(parseErr))
			}
			opts.ProcessingFee = &fee
		}
		err = report(services.Withdrawals.Process(ctx, *processFlag, opts))
	case *pendingFlag > 0:
		processed, failed, batchErr := services.Withdrawals.ProcessPending(ctx, *pendingFlag)
		fmt.Printf("Processed: %d   Failed and refunded: %d\n", processed, failed)
		err = batchErr
	case *completeFlag != "":
		err = report(services.Withdrawals.Complete(ctx, *completeFlag))
	case *failFlag != "":
		if *reasonFlag == "" {
			zap.L().Fatal("--reason is required with --fail")
		}
		err = report(services.Withdrawals.Fail(ctx, *failFlag, *reasonFlag))
	case *syncFlag:
		l := listener.NewPayoutListener(listener.PayoutListenerConfig{
			Provider:       services.Provider,
			Withdrawals:    services.Withdrawals,
			DbService:      services.DbService,
			ProcessPending: cfg.Listener.ProcessPending,
			BatchSize:      cfg.Listener.BatchSize,
		})
		l.Poll(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Printf("\nError: %s\n\n", err)
		zap.L().Error("Payout operation failed", zap.Error(err))
		os.Exit(1)
	}
}

func report(w *models.Withdrawal, err error) error {
	if w != nil {
		printWithdrawals([]models.Withdrawal{*w})
	}
	return err
}

func listWithdrawals(ctx context.Context, services *common.Services, status models.WithdrawalStatus, limit int) error {
	withdrawals, err := services.DbService.ListWithdrawalsByStatus(ctx, status, limit)
	if err != nil {
		return err
	}
	if len(withdrawals) == 0 {
		fmt.Printf("\nNo %s withdrawals\n\n", status)
		return nil
	}
	printWithdrawals(withdrawals)
	return nil
}

func printWithdrawals(withdrawals []models.Withdrawal) {
	common.PrintHeader(fmt.Sprintf("WITHDRAWALS (%d)", len(withdrawals)), common.WideWidth)
	for i, w := range withdrawals {
		isLast := i == len(withdrawals)-1
		fmt.Printf("%s%s  %-10s  %-14s  %s\n", common.BoxPrefix(isLast), w.Id, w.Status, w.Method,
			common.Money(w.Amount, w.Currency))
		detail := common.BoxDetailPrefix(isLast)
		fmt.Printf("%s  freelancer=%s  fee=%s  final=%s  created=%s\n", detail,
			common.ShortId(w.FreelancerId), w.ProcessingFee.StringFixed(2), w.FinalAmount.StringFixed(2),
			w.CreatedAt.Format("2006-01-02 15:04:05"))
		if w.ProviderTransferId != "" {
			fmt.Printf("%s  transfer=%s\n", detail, w.ProviderTransferId)
		}
		if w.ErrorMessage != "" {
			fmt.Printf("%s  error=%s\n", detail, w.ErrorMessage)
		}
	}
	fmt.Println()
}
