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

package common

import (
	"context"
	"fmt"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"go.uber.org/zap"
)

// AccountInfo represents simplified account information for command-line utilities
type AccountInfo struct {
	Id    string
	Name  string
	Email string
	Role  models.AccountRole
}

// InitializeAccounts retrieves accounts based on an optional email filter.
// If emailFilter is provided, returns the single account with that email,
// whatever its role. Otherwise returns all accounts with the given role.
func InitializeAccounts(ctx context.Context, dbService store.LedgerStore, emailFilter string, role models.AccountRole, logger *zap.Logger) ([]AccountInfo, error) {
	var accounts []AccountInfo

	if emailFilter != "" {
		logger.Info("Looking up account by email", zap.String("email", emailFilter))
		account, err := dbService.GetAccountByEmail(ctx, emailFilter)
		if err != nil {
			return nil, fmt.Errorf("account not found: %w", err)
		}
		accounts = append(accounts, toAccountInfo(*account))
	} else {
		all, err := dbService.ListAccounts(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("failed to get accounts: %w", err)
		}
		for _, a := range all {
			accounts = append(accounts, toAccountInfo(a))
		}
	}

	logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}

// ResolveAccount accepts either an account id or an email address.
func ResolveAccount(ctx context.Context, dbService store.LedgerStore, idOrEmail string) (*models.Account, error) {
	if account, err := dbService.GetAccount(ctx, idOrEmail); err == nil {
		return account, nil
	}
	account, err := dbService.GetAccountByEmail(ctx, idOrEmail)
	if err != nil {
		return nil, fmt.Errorf("no account with id or email %q: %w", idOrEmail, err)
	}
	return account, nil
}

func toAccountInfo(a models.Account) AccountInfo {
	return AccountInfo{
		Id:    a.Id,
		Name:  a.Name,
		Email: a.Email,
		Role:  a.Role,
	}
}
