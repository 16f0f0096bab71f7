package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MilestoneService drives the milestone lifecycle and releases escrow to the
// freelancer when work is approved.
type MilestoneService struct {
	base
}

func NewMilestoneService(deps Dependencies) *MilestoneService {
	return &MilestoneService{base: newBase(deps)}
}

type CreateMilestoneRequest struct {
	ContractId  string
	Title       string
	Description string
	Amount      decimal.Decimal
	Order       int // 0 appends
	DueDate     *time.Time
}

// MilestoneUpdate carries optional changes; nil fields are left untouched.
type MilestoneUpdate struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Amount      *decimal.Decimal
}

// loadForCaller returns the milestone and its contract after checking that
// callerId is the contract party allowed to act.
func (s *MilestoneService) loadForCaller(ctx context.Context, milestoneId, callerId string, role models.AccountRole) (*models.Milestone, *models.Contract, error) {
	milestone, err := s.store.GetMilestone(ctx, milestoneId)
	if err != nil {
		return nil, nil, fromStore(err, "load milestone")
	}
	contract, err := s.contractForCaller(ctx, milestone.ContractId, callerId, role)
	if err != nil {
		return nil, nil, err
	}
	return milestone, contract, nil
}

func (s *MilestoneService) contractForCaller(ctx context.Context, contractId, callerId string, role models.AccountRole) (*models.Contract, error) {
	contract, err := s.store.GetContract(ctx, contractId)
	if err != nil {
		return nil, fromStore(err, "load contract")
	}
	party := contract.ClientId
	if role == models.RoleFreelancer {
		party = contract.FreelancerId
	}
	if callerId != party {
		return nil, failure(ErrForbidden, "only the contract's %s may do this", role)
	}
	return contract, nil
}

func (s *MilestoneService) Create(ctx context.Context, callerId string, req CreateMilestoneRequest) (*models.Milestone, error) {
	contract, err := s.contractForCaller(ctx, req.ContractId, callerId, models.RoleClient)
	if err != nil {
		return nil, err
	}
	if contract.Status != models.ContractActive {
		return nil, failure(ErrInvalidTransition, "contract %s is %s", contract.Id, contract.Status)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, failure(ErrValidation, "milestone title is required")
	}
	if !validAmount(req.Amount) {
		return nil, failure(ErrValidation, "milestone amount must be positive with at most two decimals, got %s", req.Amount)
	}
	if req.Order < 0 {
		return nil, failure(ErrValidation, "milestone order must be at least 1")
	}

	milestone, err := s.store.CreateMilestone(ctx, store.CreateMilestoneParams{
		ContractId:  req.ContractId,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Amount:      req.Amount,
		Order:       req.Order,
		DueDate:     req.DueDate,
	})
	if errors.Is(err, store.ErrDuplicateOrder) {
		return nil, failure(ErrValidation, "order %d is already used on contract %s", req.Order, req.ContractId)
	}
	if err != nil {
		return nil, fromStore(err, "create milestone")
	}
	return milestone, nil
}

// Start moves a pending or rejected milestone into progress.
func (s *MilestoneService) Start(ctx context.Context, milestoneId, callerId string) (*models.Milestone, error) {
	milestone, _, err := s.loadForCaller(ctx, milestoneId, callerId, models.RoleFreelancer)
	if err != nil {
		return nil, err
	}
	if milestone.Status != models.MilestonePending && milestone.Status != models.MilestoneRejected {
		return nil, failure(ErrInvalidTransition, "cannot start milestone in status %s", milestone.Status)
	}
	updated, err := s.store.StartMilestone(ctx, milestoneId, s.now())
	if err != nil {
		return nil, fromStore(err, "start milestone")
	}
	return updated, nil
}

func (s *MilestoneService) Submit(ctx context.Context, milestoneId, callerId string, deliverables []string, note string) (*models.Milestone, error) {
	milestone, contract, err := s.loadForCaller(ctx, milestoneId, callerId, models.RoleFreelancer)
	if err != nil {
		return nil, err
	}
	if milestone.Status != models.MilestonePending && milestone.Status != models.MilestoneInProgress {
		return nil, failure(ErrInvalidTransition, "cannot submit milestone in status %s", milestone.Status)
	}
	var cleaned []string
	for _, d := range deliverables {
		if d = strings.TrimSpace(d); d != "" {
			cleaned = append(cleaned, d)
		}
	}
	if len(cleaned) == 0 {
		return nil, failure(ErrValidation, "at least one deliverable is required")
	}

	now := s.now()
	updated, err := s.store.SubmitMilestone(ctx, store.SubmitMilestoneParams{
		MilestoneId:  milestoneId,
		Deliverables: cleaned,
		Note:         note,
		At:           now,
		Events: []models.OutboxEvent{
			newEvent(models.EventMilestoneSubmitted, milestoneId, contract.ClientId, now, map[string]string{
				"contract_id": contract.Id,
				"title":       milestone.Title,
				"amount":      milestone.Amount.StringFixed(currencyScale),
			}),
		},
	})
	if err != nil {
		return nil, fromStore(err, "submit milestone")
	}
	return updated, nil
}

// Approve accepts a submitted milestone and releases its amount from escrow
// to the freelancer's available balance.
func (s *MilestoneService) Approve(ctx context.Context, milestoneId, callerId string) (result *models.ApprovalResult, err error) {
	defer func(start time.Time) { s.observe("approve_milestone", start, err) }(time.Now())

	milestone, contract, err := s.loadForCaller(ctx, milestoneId, callerId, models.RoleClient)
	if err != nil {
		return nil, err
	}
	if milestone.Status != models.MilestoneSubmitted {
		return nil, failure(ErrInvalidTransition, "cannot approve milestone in status %s", milestone.Status)
	}
	if !contract.TotalPaid.IsPositive() {
		return nil, failure(ErrEscrowNotFunded, "fund contract %s before approving milestones", contract.Id)
	}
	if remaining := contract.RemainingEscrow(); remaining.LessThan(milestone.Amount) {
		if err := s.approvedConcurrently(ctx, milestoneId); err != nil {
			return nil, err
		}
		return nil, failure(ErrInsufficientContractBalance, "need %s, %s left in escrow", money(milestone.Amount), money(remaining))
	}
	balance, err := s.store.GetFreelancerBalance(ctx, contract.FreelancerId)
	if err != nil {
		return nil, fromStore(err, "load freelancer balance")
	}
	if balance.PendingBalance.LessThan(milestone.Amount) {
		if err := s.approvedConcurrently(ctx, milestoneId); err != nil {
			return nil, err
		}
		return nil, s.pendingShortfall(milestone, contract, balance.PendingBalance)
	}

	now := s.now()
	payload := map[string]string{
		"contract_id":   contract.Id,
		"client_id":     contract.ClientId,
		"freelancer_id": contract.FreelancerId,
		"title":         milestone.Title,
		"amount":        milestone.Amount.StringFixed(currencyScale),
		"currency":      contract.Currency,
	}
	settled, err := s.store.SettleMilestone(ctx, store.SettleMilestoneParams{
		MilestoneId:  milestone.Id,
		ContractId:   contract.Id,
		FreelancerId: contract.FreelancerId,
		Amount:       milestone.Amount,
		At:           now,
		LogEntry: models.TransactionLogEntry{
			Type:              models.TxMilestoneRelease,
			FromParty:         contract.ClientId,
			ToParty:           contract.FreelancerId,
			Amount:            milestone.Amount,
			Fee:               decimal.Zero,
			NetAmount:         milestone.Amount,
			RelatedEntityId:   milestone.Id,
			RelatedEntityType: models.EntityMilestone,
			Status:            models.TxStatusCompleted,
			Description:       "Payment for milestone: " + milestone.Title,
			Metadata:          entryMetadata(ctx, map[string]string{"contract_id": contract.Id}),
		},
		Events: []models.OutboxEvent{
			newEvent(models.EventMilestoneApproved, milestone.Id, contract.FreelancerId, now, payload),
			newEvent(models.EventPaymentReleased, milestone.Id, contract.ClientId, now, payload),
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEscrowGuardFailed):
			return nil, failure(ErrInsufficientContractBalance, "escrow on contract %s no longer covers %s", contract.Id, money(milestone.Amount))
		case errors.Is(err, store.ErrGuardFailed):
			current, lookupErr := s.store.GetFreelancerBalance(ctx, contract.FreelancerId)
			if lookupErr != nil {
				current = balance
			}
			return nil, s.pendingShortfall(milestone, contract, current.PendingBalance)
		default:
			return nil, fromStore(err, "settle milestone")
		}
	}
	s.invalidate(ctx, contract.FreelancerId)

	result = &models.ApprovalResult{
		Milestone:     settled.Milestone,
		Contract:      settled.Contract,
		Balance:       settled.Balance,
		TransactionId: settled.TransactionId,
	}
	if c := settled.Contract; c.MilestoneCount > 0 && c.CompletedMilestones >= c.MilestoneCount {
		if s.completeContract(ctx, c) {
			result.ContractCompleted = true
			result.Contract.Status = models.ContractCompleted
			result.Contract.CompletedAt = &now
		}
	}
	return result, nil
}

// approvedConcurrently reports a conflict when the milestone left SUBMITTED
// after it was loaded. A concurrent approval drains escrow and pending
// together, so a shortfall seen after it is not ledger drift.
func (s *MilestoneService) approvedConcurrently(ctx context.Context, milestoneId string) error {
	current, err := s.store.GetMilestone(ctx, milestoneId)
	if err != nil || current.Status == models.MilestoneSubmitted {
		return nil
	}
	return failure(ErrConcurrentConflict, "milestone %s was %s concurrently", milestoneId, strings.ToLower(string(current.Status)))
}

func (s *MilestoneService) pendingShortfall(milestone *models.Milestone, contract *models.Contract, pending decimal.Decimal) error {
	s.escalate("pending_balance_shortfall", "Pending balance does not cover approved milestone",
		zap.String("milestone_id", milestone.Id),
		zap.String("contract_id", contract.Id),
		zap.String("freelancer_id", contract.FreelancerId),
		zap.String("required", milestone.Amount.String()),
		zap.String("pending_balance", pending.String()))
	return failure(ErrInsufficientPendingBalance, "need %s, have %s - contact support", money(milestone.Amount), money(pending))
}

// completeContract closes a contract whose milestones have all been approved.
// The money has already moved, so failures are escalated instead of returned.
func (s *MilestoneService) completeContract(ctx context.Context, contract *models.Contract) bool {
	now := s.now()
	payload := map[string]string{
		"contract_id":     contract.Id,
		"released_amount": contract.ReleasedAmount.StringFixed(currencyScale),
	}
	completed, err := s.store.CompleteContract(ctx, store.CompleteContractParams{
		ContractId: contract.Id,
		At:         now,
		Events: []models.OutboxEvent{
			newEvent(models.EventContractCompleted, contract.Id, contract.ClientId, now, payload),
			newEvent(models.EventContractCompleted, contract.Id, contract.FreelancerId, now, payload),
		},
	})
	if err != nil {
		s.escalate("contract_completion", "Failed to complete contract after final milestone",
			zap.String("contract_id", contract.Id),
			zap.Error(err))
		return false
	}
	if !completed {
		return false
	}

	if err := s.store.MarkJobCompleted(ctx, contract.JobId, now); err != nil {
		s.escalate("job_completion", "Failed to mark job completed",
			zap.String("contract_id", contract.Id),
			zap.String("job_id", contract.JobId),
			zap.Error(err))
	}
	zap.L().Info("Contract completed",
		zap.String("contract_id", contract.Id),
		zap.String("released_amount", contract.ReleasedAmount.String()))
	return true
}

func (s *MilestoneService) Reject(ctx context.Context, milestoneId, callerId, feedback string) (*models.Milestone, error) {
	milestone, contract, err := s.loadForCaller(ctx, milestoneId, callerId, models.RoleClient)
	if err != nil {
		return nil, err
	}
	if milestone.Status != models.MilestoneSubmitted {
		return nil, failure(ErrInvalidTransition, "cannot reject milestone in status %s", milestone.Status)
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, failure(ErrValidation, "feedback is required when rejecting a milestone")
	}

	now := s.now()
	updated, err := s.store.RejectMilestone(ctx, store.RejectMilestoneParams{
		MilestoneId: milestoneId,
		Feedback:    feedback,
		At:          now,
		Events: []models.OutboxEvent{
			newEvent(models.EventMilestoneRejected, milestoneId, contract.FreelancerId, now, map[string]string{
				"contract_id": contract.Id,
				"title":       milestone.Title,
				"feedback":    feedback,
			}),
		},
	})
	if err != nil {
		return nil, fromStore(err, "reject milestone")
	}
	return updated, nil
}

func (s *MilestoneService) Update(ctx context.Context, milestoneId, callerId string, update MilestoneUpdate) (*models.Milestone, error) {
	milestone, _, err := s.loadForCaller(ctx, milestoneId, callerId, models.RoleClient)
	if err != nil {
		return nil, err
	}
	if !milestone.Status.Editable() {
		return nil, failure(ErrInvalidTransition, "cannot update milestone in status %s", milestone.Status)
	}

	params := store.UpdateMilestoneParams{
		MilestoneId: milestoneId,
		Title:       milestone.Title,
		Description: milestone.Description,
		DueDate:     milestone.DueDate,
		At:          s.now(),
	}
	if update.Title != nil {
		if strings.TrimSpace(*update.Title) == "" {
			return nil, failure(ErrValidation, "milestone title is required")
		}
		params.Title = strings.TrimSpace(*update.Title)
	}
	if update.Description != nil {
		params.Description = *update.Description
	}
	if update.DueDate != nil {
		params.DueDate = update.DueDate
	}
	if update.Amount != nil && !update.Amount.Equal(milestone.Amount) {
		if milestone.Status != models.MilestonePending {
			return nil, failure(ErrValidation, "amount can only change before work starts")
		}
		if !validAmount(*update.Amount) {
			return nil, failure(ErrValidation, "milestone amount must be positive with at most two decimals, got %s", *update.Amount)
		}
		params.Amount = update.Amount
	}

	updated, err := s.store.UpdateMilestone(ctx, params)
	if err != nil {
		return nil, fromStore(err, "update milestone")
	}
	return updated, nil
}

// Reorder assigns new positions to the contract's editable milestones.
// orderedIds must name each of them exactly once.
func (s *MilestoneService) Reorder(ctx context.Context, contractId, callerId string, orderedIds []string) ([]models.Milestone, error) {
	if _, err := s.contractForCaller(ctx, contractId, callerId, models.RoleClient); err != nil {
		return nil, err
	}
	current, err := s.store.ListMilestones(ctx, contractId)
	if err != nil {
		return nil, fromStore(err, "list milestones")
	}

	editable := make(map[string]bool)
	for _, m := range current {
		if m.Status.Editable() {
			editable[m.Id] = true
		}
	}
	if len(orderedIds) != len(editable) {
		return nil, failure(ErrValidation, "reorder must list all %d editable milestones, got %d", len(editable), len(orderedIds))
	}
	seen := make(map[string]bool, len(orderedIds))
	for _, id := range orderedIds {
		if !editable[id] {
			return nil, failure(ErrValidation, "milestone %s is not editable on contract %s", id, contractId)
		}
		if seen[id] {
			return nil, failure(ErrValidation, "milestone %s listed twice", id)
		}
		seen[id] = true
	}

	milestones, err := s.store.ReorderMilestones(ctx, contractId, orderedIds)
	if err != nil {
		return nil, fromStore(err, "reorder milestones")
	}
	return milestones, nil
}

// Delete removes an editable milestone. Deleting the last outstanding
// milestone completes the contract when everything else is approved.
func (s *MilestoneService) Delete(ctx context.Context, milestoneId, callerId string) error {
	milestone, _, err := s.loadForCaller(ctx, milestoneId, callerId, models.RoleClient)
	if err != nil {
		return err
	}
	if !milestone.Status.Editable() {
		return failure(ErrInvalidTransition, "cannot delete milestone in status %s", milestone.Status)
	}

	contract, err := s.store.DeleteMilestone(ctx, milestoneId)
	if err != nil {
		return fromStore(err, "delete milestone")
	}
	if contract.MilestoneCount > 0 && contract.CompletedMilestones >= contract.MilestoneCount {
		s.completeContract(ctx, contract)
	}
	return nil
}
