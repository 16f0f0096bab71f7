package settlement

import (
	"context"
	"errors"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

type EscrowServiceConfig struct {
	Dependencies
	Currency           string
	PlatformFeePercent decimal.Decimal
}

// EscrowService records contracts and the client payments that fund them.
type EscrowService struct {
	base
	currency   string
	feePercent decimal.Decimal
}

func NewEscrowService(cfg EscrowServiceConfig) *EscrowService {
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &EscrowService{base: newBase(cfg.Dependencies), currency: currency, feePercent: cfg.PlatformFeePercent}
}

func (s *EscrowService) CreateContract(ctx context.Context, clientId, freelancerId string, total decimal.Decimal) (*models.Contract, error) {
	if _, err := s.account(ctx, clientId, models.RoleClient); err != nil {
		return nil, err
	}
	if _, err := s.account(ctx, freelancerId, models.RoleFreelancer); err != nil {
		return nil, err
	}
	if !validAmount(total) {
		return nil, failure(ErrValidation, "contract total must be positive with at most two decimals, got %s", total)
	}
	contract, err := s.store.CreateContract(ctx, store.CreateContractParams{
		ClientId:     clientId,
		FreelancerId: freelancerId,
		Currency:     s.currency,
		TotalAmount:  total,
	})
	if err != nil {
		return nil, fromStore(err, "create contract")
	}
	return contract, nil
}

// PlatformFee is charged to the client on top of the funded amount.
func (s *EscrowService) PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.feePercent).Div(hundred).Round(currencyScale)
}

// Fund records a client payment into escrow and credits it to the
// freelancer's pending balance.
func (s *EscrowService) Fund(ctx context.Context, contractId, callerId string, amount decimal.Decimal, reference string) (contract *models.Contract, err error) {
	defer func(start time.Time) { s.observe("fund_escrow", start, err) }(time.Now())

	contract, err = s.store.GetContract(ctx, contractId)
	if err != nil {
		return nil, fromStore(err, "load contract")
	}
	if contract.ClientId != callerId {
		return nil, failure(ErrForbidden, "only the contract's client may fund escrow")
	}
	if !validAmount(amount) {
		return nil, failure(ErrValidation, "funding amount must be positive with at most two decimals, got %s", amount)
	}
	if unfunded := contract.TotalAmount.Sub(contract.TotalPaid); amount.GreaterThan(unfunded) {
		return nil, failure(ErrValidation, "funding %s exceeds the %s still owed on the contract", money(amount), money(unfunded))
	}

	now := s.now()
	fee := s.PlatformFee(amount)
	funded, err := s.store.FundEscrow(ctx, store.FundEscrowParams{
		ContractId:  contractId,
		Amount:      amount,
		PlatformFee: fee,
		Reference:   reference,
		At:          now,
		Events: []models.OutboxEvent{
			newEvent(models.EventEscrowFunded, contractId, contract.FreelancerId, now, map[string]string{
				"contract_id":   contractId,
				"client_id":     contract.ClientId,
				"freelancer_id": contract.FreelancerId,
				"amount":        amount.StringFixed(currencyScale),
				"currency":      contract.Currency,
			}),
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrEscrowGuardFailed) {
			return nil, failure(ErrConcurrentConflict, "contract %s changed while funding; reload and retry", contractId)
		}
		return nil, fromStore(err, "fund escrow")
	}
	s.invalidate(ctx, funded.FreelancerId)
	return funded, nil
}
