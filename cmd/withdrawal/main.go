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
	"errors"
	"flag"
	"fmt"
	"os"

	"escrow-settlement-go/internal/common"
	"escrow-settlement-go/internal/config"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/settlement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type withdrawalFlags struct {
	email          string
	method         string
	amount         decimal.Decimal
	destination    string
	idempotencyKey string
	cancelId       string
	quoteOnly      bool
}

func parseAndValidateFlags() (*withdrawalFlags, error) {
	emailFlag := flag.String("email", "", "Freelancer email or id (required)")
	methodFlag := flag.String("method", "", "Payout method, e.g. bank_transfer, paypal, usdc_wallet")
	amountFlag := flag.String("amount", "", "Amount to withdraw")
	destinationFlag := flag.String("destination", "", "Destination account, email or address")
	keyFlag := flag.String("key", "", "Idempotency key (default: generated)")
	cancelFlag := flag.String("cancel", "", "Cancel the PENDING withdrawal with this id instead of requesting one")
	quoteFlag := flag.Bool("quote", false, "Only print the fee quote")
	flag.Parse()

	f := &withdrawalFlags{
		email:          *emailFlag,
		method:         *methodFlag,
		destination:    *destinationFlag,
		idempotencyKey: *keyFlag,
		cancelId:       *cancelFlag,
		quoteOnly:      *quoteFlag,
	}
	if f.email == "" {
		return nil, fmt.Errorf("--email is required")
	}
	if f.cancelId != "" {
		return f, nil
	}

	if f.method == "" || *amountFlag == "" {
		return nil, fmt.Errorf("--method and --amount are required")
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}
	f.amount = amount

	if !f.quoteOnly && f.destination == "" {
		return nil, fmt.Errorf("--destination is required")
	}
	if f.idempotencyKey == "" {
		f.idempotencyKey = uuid.NewString()
	}
	return f, nil
}

func printQuote(services *common.Services, f *withdrawalFlags, currency string) error {
	fee, final, err := services.Withdrawals.Quote(f.method, f.amount)
	if err != nil {
		return err
	}
	common.PrintHeader("WITHDRAWAL QUOTE", common.DefaultWidth)
	fmt.Printf("Method:          %s\n", f.method)
	fmt.Printf("Amount:          %s\n", common.Money(f.amount, currency))
	fmt.Printf("Processing Fee:  %s\n", common.Money(fee, currency))
	fmt.Printf("You Receive:     %s\n", common.Money(final, currency))
	common.PrintFooter("Available methods: "+methodNames(services.Fees), common.DefaultWidth)
	return nil
}

func methodNames(fees *settlement.FeeSchedule) string {
	names := ""
	for i, m := range fees.Methods() {
		if i > 0 {
			names += ", "
		}
		names += m.Name
	}
	return names
}

func printWithdrawal(title string, w *models.Withdrawal, balance models.FreelancerBalance) {
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("Withdrawal ID:     %s\n", w.Id)
	fmt.Printf("Status:            %s\n", w.Status)
	fmt.Printf("Method:            %s -> %s\n", w.Method, w.Destination)
	fmt.Printf("Amount:            %s\n", common.Money(w.Amount, w.Currency))
	fmt.Printf("Processing Fee:    %s\n", common.Money(w.ProcessingFee, w.Currency))
	fmt.Printf("Final Amount:      %s\n", common.Money(w.FinalAmount, w.Currency))
	if w.ProviderTransferId != "" {
		fmt.Printf("Provider Transfer: %s\n", w.ProviderTransferId)
	}
	if w.ErrorMessage != "" {
		fmt.Printf("Error:             %s\n", w.ErrorMessage)
	}
	fmt.Printf("Idempotency Key:   %s\n", w.IdempotencyKey)
	common.PrintFooter(fmt.Sprintf("Available balance: %s   Pending balance: %s",
		common.Money(balance.AvailableBalance, w.Currency),
		common.Money(balance.PendingBalance, w.Currency)), common.DefaultWidth)
}

func fail(title string, err error) {
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("Error: %s\n", err)
	switch {
	case errors.Is(err, settlement.ErrInsufficientFunds):
		fmt.Println("Hint:  check the available balance with the balances command")
	case errors.Is(err, settlement.ErrConcurrentConflict):
		fmt.Println("Hint:  the balance changed while the request ran, retry with the same --key")
	case errors.Is(err, settlement.ErrProvider):
		fmt.Println("Hint:  the payout provider rejected the transfer, the amount was refunded")
	}
	fmt.Println()
	zap.L().Error(title, zap.Error(err))
	os.Exit(1)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	f, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if f.quoteOnly {
		if err := printQuote(services, f, cfg.Settlement.Currency); err != nil {
			fail("QUOTE FAILED", err)
		}
		return
	}

	freelancer, err := common.ResolveAccount(ctx, services.DbService, f.email)
	if err != nil {
		fail("WITHDRAWAL FAILED", err)
	}
	ctx = common.CommandContext(ctx, freelancer.Id)

	var w *models.Withdrawal
	if f.cancelId != "" {
		w, err = services.Withdrawals.Cancel(ctx, f.cancelId, freelancer.Id)
		if err != nil {
			fail("CANCEL FAILED", err)
		}
	} else {
		zap.L().Info("Requesting withdrawal",
			zap.String("freelancer_id", freelancer.Id),
			zap.String("method", f.method),
			zap.String("amount", f.amount.String()),
			zap.String("idempotency_key", f.idempotencyKey))

		w, err = services.Withdrawals.Request(ctx, settlement.WithdrawalRequest{
			FreelancerId:   freelancer.Id,
			Amount:         f.amount,
			Method:         f.method,
			Destination:    f.destination,
			IdempotencyKey: f.idempotencyKey,
		})
		if err != nil {
			if w != nil {
				printWithdrawal("WITHDRAWAL FAILED", w, models.FreelancerBalance{})
			}
			fail("WITHDRAWAL FAILED", err)
		}
	}

	balance, err := services.Ledger.GetFreelancerBalance(ctx, freelancer.Id)
	if err != nil {
		zap.L().Warn("Failed to load balance after withdrawal", zap.Error(err))
	}

	title := "WITHDRAWAL REQUESTED"
	switch {
	case f.cancelId != "":
		title = "WITHDRAWAL CANCELLED"
	case w.Status == models.WithdrawalProcessing:
		title = "WITHDRAWAL SENT TO PROVIDER"
	}
	printWithdrawal(title, w, balance)
}
