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
	"regexp"
	"strings"

	"escrow-settlement-go/internal/common"
	"escrow-settlement-go/internal/config"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func parseRole(role string) (models.AccountRole, error) {
	switch models.AccountRole(strings.ToLower(role)) {
	case models.RoleFreelancer:
		return models.RoleFreelancer, nil
	case models.RoleClient:
		return models.RoleClient, nil
	}
	return "", fmt.Errorf("role must be %q or %q, got %q", models.RoleFreelancer, models.RoleClient, role)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "Account holder name (required)")
	emailFlag := flag.String("email", "", "Account email (required)")
	roleFlag := flag.String("role", "freelancer", "Account role: freelancer or client")
	flag.Parse()

	name := strings.TrimSpace(*nameFlag)
	email := strings.ToLower(strings.TrimSpace(*emailFlag))

	if err := validateName(name); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(email); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}
	role, err := parseRole(*roleFlag)
	if err != nil {
		zap.L().Fatal("Invalid role", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	account, err := dbService.CreateAccount(ctx, store.CreateAccountParams{
		Name:  name,
		Email: email,
		Role:  role,
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		existing, lookupErr := dbService.GetAccountByEmail(ctx, email)
		if lookupErr != nil {
			zap.L().Fatal("Email taken but account lookup failed", zap.Error(lookupErr))
		}
		common.PrintHeader("ACCOUNT ALREADY EXISTS", common.DefaultWidth)
		fmt.Printf("ID:    %s\n", existing.Id)
		fmt.Printf("Name:  %s\n", existing.Name)
		fmt.Printf("Role:  %s\n", existing.Role)
		common.PrintFooter("No changes made", common.DefaultWidth)
		return
	}
	if err != nil {
		zap.L().Fatal("Failed to create account", zap.Error(err))
	}

	zap.L().Info("Account created",
		zap.String("account_id", account.Id),
		zap.String("email", account.Email),
		zap.String("role", string(account.Role)))

	common.PrintHeader("ACCOUNT CREATED", common.DefaultWidth)
	fmt.Printf("ID:    %s\n", account.Id)
	fmt.Printf("Name:  %s\n", account.Name)
	fmt.Printf("Email: %s\n", account.Email)
	fmt.Printf("Role:  %s\n", account.Role)
	common.PrintFooter("Use this email with the milestone, withdrawal and balances commands", common.DefaultWidth)
}
