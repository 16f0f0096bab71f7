package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) CreateMilestone(ctx context.Context, params store.CreateMilestoneParams) (*models.Milestone, error) {
	amount, err := toMinor(params.Amount)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var milestone *models.Milestone
	err = s.withTx(ctx, func(c *conn) error {
		result, err := c.exec(ctx, queryIncrementMilestoneCount, now, params.ContractId)
		if err != nil {
			return fmt.Errorf("failed to increment milestone count: %w", err)
		}
		if ok, err := requireOneRow(result); err != nil {
			return err
		} else if !ok {
			if _, err := getContract(ctx, c, params.ContractId); err != nil {
				return err
			}
			return fmt.Errorf("%w: contract %s is not active", store.ErrStateConflict, params.ContractId)
		}

		order := params.Order
		if order <= 0 {
			if err := c.queryRow(ctx, queryNextMilestoneOrder, params.ContractId).Scan(&order); err != nil {
				return fmt.Errorf("failed to compute milestone order: %w", err)
			}
		}

		milestone, err = scanMilestone(c.queryRow(ctx, queryInsertMilestone,
			uuid.New().String(), params.ContractId, params.Title, params.Description, amount, order,
			nullTime(params.DueDate), now, now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: order %d on contract %s", store.ErrDuplicateOrder, order, params.ContractId)
			}
			return fmt.Errorf("failed to insert milestone: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Milestone created",
		zap.String("milestone_id", milestone.Id),
		zap.String("contract_id", milestone.ContractId),
		zap.Int("order", milestone.Order),
		zap.String("amount", milestone.Amount.String()))
	return milestone, nil
}

func (s *Service) GetMilestone(ctx context.Context, milestoneId string) (*models.Milestone, error) {
	return getMilestone(ctx, s.conn(), milestoneId)
}

func getMilestone(ctx context.Context, c *conn, milestoneId string) (*models.Milestone, error) {
	milestone, err := scanMilestone(c.queryRow(ctx, queryGetMilestoneById, milestoneId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: milestone %s", store.ErrNotFound, milestoneId)
		}
		return nil, fmt.Errorf("failed to get milestone: %w", err)
	}
	return milestone, nil
}

func (s *Service) ListMilestones(ctx context.Context, contractId string) ([]models.Milestone, error) {
	return listMilestones(ctx, s.conn(), contractId)
}

func listMilestones(ctx context.Context, c *conn, contractId string) ([]models.Milestone, error) {
	rows, err := c.query(ctx, queryListMilestones, contractId)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer closeRows(rows)

	var milestones []models.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		milestones = append(milestones, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating milestones: %w", err)
	}
	return milestones, nil
}

// milestoneGuardError explains why a status-guarded update matched no row.
func milestoneGuardError(ctx context.Context, c *conn, milestoneId, action string) error {
	current, err := getMilestone(ctx, c, milestoneId)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s milestone %s in status %s", store.ErrStateConflict, action, milestoneId, current.Status)
}

func (s *Service) StartMilestone(ctx context.Context, milestoneId string, at time.Time) (*models.Milestone, error) {
	c := s.conn()
	milestone, err := scanMilestone(c.queryRow(ctx, queryStartMilestone, at.UTC(), milestoneId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, milestoneGuardError(ctx, c, milestoneId, "start")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start milestone: %w", err)
	}
	return milestone, nil
}

func (s *Service) SubmitMilestone(ctx context.Context, params store.SubmitMilestoneParams) (*models.Milestone, error) {
	deliverables, err := json.Marshal(params.Deliverables)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deliverables: %w", err)
	}
	at := params.At.UTC()

	var milestone *models.Milestone
	err = s.withTx(ctx, func(c *conn) error {
		var err error
		milestone, err = scanMilestone(c.queryRow(ctx, querySubmitMilestone,
			string(deliverables), params.Note, at, at, params.MilestoneId))
		if errors.Is(err, sql.ErrNoRows) {
			return milestoneGuardError(ctx, c, params.MilestoneId, "submit")
		}
		if err != nil {
			return fmt.Errorf("failed to submit milestone: %w", err)
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		return nil, err
	}
	return milestone, nil
}

func (s *Service) RejectMilestone(ctx context.Context, params store.RejectMilestoneParams) (*models.Milestone, error) {
	at := params.At.UTC()

	var milestone *models.Milestone
	err := s.withTx(ctx, func(c *conn) error {
		var err error
		milestone, err = scanMilestone(c.queryRow(ctx, queryRejectMilestone, params.Feedback, at, at, params.MilestoneId))
		if errors.Is(err, sql.ErrNoRows) {
			return milestoneGuardError(ctx, c, params.MilestoneId, "reject")
		}
		if err != nil {
			return fmt.Errorf("failed to reject milestone: %w", err)
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		return nil, err
	}
	return milestone, nil
}

func (s *Service) UpdateMilestone(ctx context.Context, params store.UpdateMilestoneParams) (*models.Milestone, error) {
	at := params.At.UTC()

	var milestone *models.Milestone
	err := s.withTx(ctx, func(c *conn) error {
		result, err := c.exec(ctx, queryUpdateMilestoneDetails,
			params.Title, params.Description, nullTime(params.DueDate), at, params.MilestoneId)
		if err != nil {
			return fmt.Errorf("failed to update milestone: %w", err)
		}
		if ok, err := requireOneRow(result); err != nil {
			return err
		} else if !ok {
			return milestoneGuardError(ctx, c, params.MilestoneId, "update")
		}

		if params.Amount != nil {
			amount, err := toMinor(*params.Amount)
			if err != nil {
				return err
			}
			result, err := c.exec(ctx, queryUpdateMilestoneAmount, amount, at, params.MilestoneId)
			if err != nil {
				return fmt.Errorf("failed to update milestone amount: %w", err)
			}
			if ok, err := requireOneRow(result); err != nil {
				return err
			} else if !ok {
				return milestoneGuardError(ctx, c, params.MilestoneId, "change the amount of")
			}
		}

		milestone, err = getMilestone(ctx, c, params.MilestoneId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return milestone, nil
}

// ReorderMilestones assigns new positions to the editable milestones of a
// contract. orderedIds must list exactly those milestones; they take over the
// order slots the editable milestones already occupy, so submitted and
// approved milestones keep their positions.
func (s *Service) ReorderMilestones(ctx context.Context, contractId string, orderedIds []string) ([]models.Milestone, error) {
	now := time.Now().UTC()

	var milestones []models.Milestone
	err := s.withTx(ctx, func(c *conn) error {
		current, err := listMilestones(ctx, c, contractId)
		if err != nil {
			return err
		}

		editable := make(map[string]int)
		var slots []int
		for _, m := range current {
			if m.Status.Editable() {
				editable[m.Id] = m.Order
				slots = append(slots, m.Order)
			}
		}
		if len(orderedIds) != len(editable) {
			return fmt.Errorf("%w: expected %d editable milestones, got %d", store.ErrStateConflict, len(editable), len(orderedIds))
		}
		seen := make(map[string]bool, len(orderedIds))
		for _, id := range orderedIds {
			if _, ok := editable[id]; !ok || seen[id] {
				return fmt.Errorf("%w: milestone %s cannot be reordered", store.ErrStateConflict, id)
			}
			seen[id] = true
		}
		sort.Ints(slots)

		// Park the editable rows on negative orders first so the unique
		// (contract_id, sort_order) index never sees a transient collision.
		for _, id := range orderedIds {
			if _, err := c.exec(ctx, queryParkMilestoneOrder, id, contractId); err != nil {
				return fmt.Errorf("failed to park milestone order: %w", err)
			}
		}
		for i, id := range orderedIds {
			if _, err := c.exec(ctx, querySetMilestoneOrder, slots[i], now, id, contractId); err != nil {
				return fmt.Errorf("failed to set milestone order: %w", err)
			}
		}

		milestones, err = listMilestones(ctx, c, contractId)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Milestones reordered", zap.String("contract_id", contractId), zap.Int("count", len(orderedIds)))
	return milestones, nil
}

// DeleteMilestone removes an editable milestone and decrements the contract's milestone count.
func (s *Service) DeleteMilestone(ctx context.Context, milestoneId string) (*models.Contract, error) {
	now := time.Now().UTC()

	var contract *models.Contract
	err := s.withTx(ctx, func(c *conn) error {
		var contractId string
		err := c.queryRow(ctx, queryDeleteMilestone, milestoneId).Scan(&contractId)
		if errors.Is(err, sql.ErrNoRows) {
			return milestoneGuardError(ctx, c, milestoneId, "delete")
		}
		if err != nil {
			return fmt.Errorf("failed to delete milestone: %w", err)
		}

		contract, err = scanContract(c.queryRow(ctx, queryDecrementMilestoneCount, now, contractId))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: contract %s has no milestones to remove", store.ErrStateConflict, contractId)
		}
		if err != nil {
			return fmt.Errorf("failed to decrement milestone count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Milestone deleted",
		zap.String("milestone_id", milestoneId),
		zap.String("contract_id", contract.Id),
		zap.Int("milestone_count", contract.MilestoneCount))
	return contract, nil
}

// SettleMilestone approves a submitted milestone and releases its amount in a
// single transaction. Every step is a guarded update, so a concurrent approval,
// a drained escrow or a short pending balance aborts the whole unit of work.
func (s *Service) SettleMilestone(ctx context.Context, params store.SettleMilestoneParams) (*store.SettleMilestoneResult, error) {
	amount, err := toMinor(params.Amount)
	if err != nil {
		return nil, err
	}
	at := params.At.UTC()

	result := &store.SettleMilestoneResult{}
	err = s.withTx(ctx, func(c *conn) error {
		var err error
		result.Milestone, err = scanMilestone(c.queryRow(ctx, queryApproveMilestone, at, at, params.MilestoneId))
		if errors.Is(err, sql.ErrNoRows) {
			return milestoneGuardError(ctx, c, params.MilestoneId, "approve")
		}
		if err != nil {
			return fmt.Errorf("failed to approve milestone: %w", err)
		}
		if result.Milestone.ContractId != params.ContractId || !result.Milestone.Amount.Equal(params.Amount) {
			return fmt.Errorf("%w: milestone %s changed since validation", store.ErrStateConflict, params.MilestoneId)
		}

		// Balance sufficiency first.
		if _, err := conditionalAdjust(ctx, c, store.BalanceAdjustment{
			AccountId:     params.FreelancerId,
			Field:         store.PendingBalance,
			Delta:         params.Amount.Neg(),
			MinimumBefore: params.Amount,
		}, at); err != nil {
			return err
		}

		result.Contract, err = scanContract(c.queryRow(ctx, queryReleaseContractEscrow, amount, at, params.ContractId, amount))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: contract %s cannot release %s", store.ErrEscrowGuardFailed, params.ContractId, params.Amount.String())
		}
		if err != nil {
			return fmt.Errorf("failed to release contract escrow: %w", err)
		}

		result.Balance, err = conditionalAdjust(ctx, c, store.BalanceAdjustment{
			AccountId: params.FreelancerId,
			Field:     store.AvailableBalance,
			Delta:     params.Amount,
		}, at)
		if err != nil {
			return err
		}

		entry := params.LogEntry
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = at
		}
		if result.TransactionId, err = appendTransactionLog(ctx, c, entry); err != nil {
			return err
		}
		return enqueueEvents(ctx, c, params.Events, at)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Milestone settled",
		zap.String("milestone_id", params.MilestoneId),
		zap.String("contract_id", params.ContractId),
		zap.String("freelancer_id", params.FreelancerId),
		zap.String("amount", params.Amount.String()),
		zap.String("released_amount", result.Contract.ReleasedAmount.String()))
	return result, nil
}
