package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) CreateAccount(ctx context.Context, params store.CreateAccountParams) (*models.Account, error) {
	id := params.Id
	if id == "" {
		id = uuid.New().String()
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))
	now := time.Now().UTC()

	acct, err := scanAccount(s.conn().queryRow(ctx, queryInsertAccount, id, params.Name, email, string(params.Role), now, now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateEmail, email)
		}
		zap.L().Error("Failed to create account", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to create account: %w", err)
	}

	zap.L().Info("Account created",
		zap.String("account_id", acct.Id),
		zap.String("role", string(acct.Role)))
	return acct, nil
}

func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	zap.L().Debug("Querying account by ID", zap.String("account_id", accountId))

	acct, err := scanAccount(s.conn().queryRow(ctx, queryGetAccountById, accountId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, accountId)
		}
		zap.L().Error("Failed to query account by ID", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by ID: %w", err)
	}
	return acct, nil
}

func (s *Service) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	zap.L().Debug("Querying account by email", zap.String("email", email))

	acct, err := scanAccount(s.conn().queryRow(ctx, queryGetAccountByEmail, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account with email %s", store.ErrNotFound, email)
		}
		zap.L().Error("Failed to query account by email", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by email: %w", err)
	}
	return acct, nil
}

// ListAccounts returns accounts with the given role, or every account when role is empty.
func (s *Service) ListAccounts(ctx context.Context, role models.AccountRole) ([]models.Account, error) {
	rows, err := s.conn().query(ctx, queryListAccountsByRole, string(role), string(role))
	if err != nil {
		zap.L().Error("Failed to query accounts", zap.String("role", string(role)), zap.Error(err))
		return nil, fmt.Errorf("unable to query accounts: %w", err)
	}
	defer closeRows(rows)

	var accounts []models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan account row: %w", err)
		}
		accounts = append(accounts, *acct)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	zap.L().Debug("Retrieved accounts", zap.String("role", string(role)), zap.Int("count", len(accounts)))
	return accounts, nil
}
