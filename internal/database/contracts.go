package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateContract records a contract formed upstream. The linked job row is
// created on demand so completion can be reflected on it later.
func (s *Service) CreateContract(ctx context.Context, params store.CreateContractParams) (*models.Contract, error) {
	total, err := toMinor(params.TotalAmount)
	if err != nil {
		return nil, err
	}
	jobId := params.JobId
	if jobId == "" {
		jobId = uuid.New().String()
	}
	now := time.Now().UTC()

	var contract *models.Contract
	err = s.withTx(ctx, func(c *conn) error {
		if _, err := c.exec(ctx, queryInsertJob, jobId); err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		contract, err = scanContract(c.queryRow(ctx, queryInsertContract,
			uuid.New().String(), jobId, params.ClientId, params.FreelancerId, params.Currency, total, now, now))
		if err != nil {
			return fmt.Errorf("failed to insert contract: %w", err)
		}
		return nil
	})
	if err != nil {
		zap.L().Error("Failed to create contract",
			zap.String("client_id", params.ClientId),
			zap.String("freelancer_id", params.FreelancerId),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("Contract created",
		zap.String("contract_id", contract.Id),
		zap.String("job_id", contract.JobId),
		zap.String("total_amount", contract.TotalAmount.String()))
	return contract, nil
}

func (s *Service) GetContract(ctx context.Context, contractId string) (*models.Contract, error) {
	return getContract(ctx, s.conn(), contractId)
}

func getContract(ctx context.Context, c *conn, contractId string) (*models.Contract, error) {
	contract, err := scanContract(c.queryRow(ctx, queryGetContractById, contractId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: contract %s", store.ErrNotFound, contractId)
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return contract, nil
}

// FundEscrow credits a client payment to the contract escrow and the matching
// amount to the freelancer's pending balance in one transaction.
func (s *Service) FundEscrow(ctx context.Context, params store.FundEscrowParams) (*models.Contract, error) {
	amount, err := toMinor(params.Amount)
	if err != nil {
		return nil, err
	}
	at := params.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var contract *models.Contract
	err = s.withTx(ctx, func(c *conn) error {
		contract, err = scanContract(c.queryRow(ctx, queryFundContract, amount, at, params.ContractId, amount))
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := getContract(ctx, c, params.ContractId); getErr != nil {
				return getErr
			}
			return fmt.Errorf("%w: funding %s exceeds contract total or contract is closed",
				store.ErrEscrowGuardFailed, params.Amount.String())
		}
		if err != nil {
			return fmt.Errorf("failed to fund contract: %w", err)
		}

		_, err = conditionalAdjust(ctx, c, store.BalanceAdjustment{
			AccountId: contract.FreelancerId,
			Field:     store.PendingBalance,
			Delta:     params.Amount,
		}, at)
		if err != nil {
			return err
		}

		_, err = appendTransactionLog(ctx, c, models.TransactionLogEntry{
			Type:              models.TxEscrowFunding,
			FromParty:         contract.ClientId,
			ToParty:           contract.FreelancerId,
			Amount:            params.Amount.Add(params.PlatformFee),
			Fee:               params.PlatformFee,
			NetAmount:         params.Amount,
			RelatedEntityId:   contract.Id,
			RelatedEntityType: models.EntityContract,
			Status:            models.TxStatusCompleted,
			Description:       "Escrow funded for contract " + contract.Id,
			Metadata:          map[string]string{"reference": params.Reference},
			CreatedAt:         at,
		})
		if err != nil {
			return err
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		zap.L().Error("Failed to fund escrow", zap.String("contract_id", params.ContractId), zap.Error(err))
		return nil, err
	}

	zap.L().Info("Escrow funded",
		zap.String("contract_id", contract.Id),
		zap.String("amount", params.Amount.String()),
		zap.String("total_paid", contract.TotalPaid.String()))
	return contract, nil
}

// CompleteContract flips an ACTIVE contract to COMPLETED once every milestone
// has been released. It reports false when the contract is not yet eligible.
func (s *Service) CompleteContract(ctx context.Context, params store.CompleteContractParams) (bool, error) {
	at := params.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	completed := false
	err := s.withTx(ctx, func(c *conn) error {
		result, err := c.exec(ctx, queryCompleteContract, at, at, params.ContractId)
		if err != nil {
			return fmt.Errorf("failed to complete contract: %w", err)
		}
		if completed, err = requireOneRow(result); err != nil || !completed {
			return err
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		return false, err
	}
	if completed {
		zap.L().Info("Contract completed", zap.String("contract_id", params.ContractId))
	}
	return completed, nil
}

func (s *Service) MarkJobCompleted(ctx context.Context, jobId string, at time.Time) error {
	if _, err := s.conn().exec(ctx, queryMarkJobCompleted, jobId, at.UTC()); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	zap.L().Info("Job marked completed", zap.String("job_id", jobId))
	return nil
}
