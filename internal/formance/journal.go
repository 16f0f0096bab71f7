package formance

import (
	"context"
	"fmt"

	"escrow-settlement-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Chart of accounts:
//
//	clients:{id}                 client payments (overdraft, funded externally)
//	freelancers:{id}:pending     escrowed, not yet released
//	freelancers:{id}:available   released, withdrawable
//	payouts:pending              reserved by in-flight withdrawals
//	payouts:sent                 paid out through a provider
//	platform:fees                withdrawal processing fees

const numscriptEscrowFunded = `vars {
  asset $asset
  number $amount
  account $client
  account $pending
  string $contract_id
}

send [$asset $amount] (
  source = $client allowing unbounded overdraft
  destination = $pending
)

set_tx_meta("event_type", "escrow_funded")
set_tx_meta("contract_id", $contract_id)
`

const numscriptPaymentReleased = `vars {
  asset $asset
  number $amount
  account $pending
  account $available
  string $contract_id
  string $milestone_id
}

send [$asset $amount] (
  source = $pending
  destination = $available
)

set_tx_meta("event_type", "payment_released")
set_tx_meta("contract_id", $contract_id)
set_tx_meta("milestone_id", $milestone_id)
`

const numscriptWithdrawalReserved = `vars {
  asset $asset
  number $amount
  account $available
  string $withdrawal_id
}

send [$asset $amount] (
  source = $available
  destination = @payouts:pending
)

set_tx_meta("event_type", "withdrawal_reserved")
set_tx_meta("withdrawal_id", $withdrawal_id)
`

const numscriptWithdrawalPaid = `vars {
  asset $asset
  number $final_amount
  number $fee
  string $withdrawal_id
}

send [$asset $final_amount] (
  source = @payouts:pending
  destination = @payouts:sent
)

send [$asset $fee] (
  source = @payouts:pending
  destination = @platform:fees
)

set_tx_meta("event_type", "withdrawal_paid")
set_tx_meta("withdrawal_id", $withdrawal_id)
`

const numscriptWithdrawalPaidNoFee = `vars {
  asset $asset
  number $final_amount
  string $withdrawal_id
}

send [$asset $final_amount] (
  source = @payouts:pending
  destination = @payouts:sent
)

set_tx_meta("event_type", "withdrawal_paid")
set_tx_meta("withdrawal_id", $withdrawal_id)
`

const numscriptWithdrawalRefunded = `vars {
  asset $asset
  number $amount
  account $available
  string $withdrawal_id
}

send [$asset $amount] (
  source = @payouts:pending
  destination = $available
)

set_tx_meta("event_type", "withdrawal_refunded")
set_tx_meta("withdrawal_id", $withdrawal_id)
`

// posting is a Numscript transaction derived from an outbox event.
type posting struct {
	script string
	vars   map[string]string
}

func (m *JournalMirror) Name() string { return "formance" }

// Notify posts the event's money movement. Events that move no money are
// ignored; an already-posted reference counts as delivered.
func (m *JournalMirror) Notify(ctx context.Context, event models.OutboxEvent) error {
	p, ok, err := buildPosting(event, m.currency)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	_, err = m.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: m.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: v3.Pointer(event.Id),
			Timestamp: &event.CreatedAt,
			Script: &shared.V2PostTransactionScript{
				Plain: p.script,
				Vars:  p.vars,
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil
		}
		return fmt.Errorf("error mirroring %s: %w", event.EventType, err)
	}

	zap.L().Debug("Event mirrored to Formance",
		zap.String("event_id", event.Id),
		zap.String("event_type", event.EventType))
	return nil
}

func pendingAccount(freelancerId string) string   { return "freelancers:" + freelancerId + ":pending" }
func availableAccount(freelancerId string) string { return "freelancers:" + freelancerId + ":available" }

// buildPosting maps an event onto the chart of accounts. ok is false for
// events without a money movement.
func buildPosting(event models.OutboxEvent, currency string) (*posting, bool, error) {
	if c := event.Payload["currency"]; c != "" {
		currency = c
	}
	asset := formanceAsset(currency)

	amount := func(key string) (string, error) {
		raw, ok := event.Payload[key]
		if !ok {
			return "", fmt.Errorf("event %s (%s) missing %s", event.Id, event.EventType, key)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return "", fmt.Errorf("event %s has invalid %s %q: %w", event.Id, key, raw, err)
		}
		return d.Shift(int32(precisionFor(currency))).BigInt().String(), nil
	}
	field := func(key string) (string, error) {
		v := event.Payload[key]
		if v == "" {
			return "", fmt.Errorf("event %s (%s) missing %s", event.Id, event.EventType, key)
		}
		return v, nil
	}

	var (
		p   = &posting{vars: map[string]string{"asset": asset}}
		err error
	)
	set := func(name, value string, e error) {
		if err == nil && e != nil {
			err = e
		}
		p.vars[name] = value
	}

	switch event.EventType {
	case models.EventEscrowFunded:
		p.script = numscriptEscrowFunded
		amt, e := amount("amount")
		set("amount", amt, e)
		client, e := field("client_id")
		set("client", "clients:"+client, e)
		set("pending", pendingAccount(event.RecipientId), nil)
		contract, e := field("contract_id")
		set("contract_id", contract, e)
	case models.EventPaymentReleased:
		// milestone.approved carries the same movement for the freelancer's inbox
		p.script = numscriptPaymentReleased
		amt, e := amount("amount")
		set("amount", amt, e)
		freelancer, e := field("freelancer_id")
		set("pending", pendingAccount(freelancer), e)
		set("available", availableAccount(freelancer), nil)
		contract, e := field("contract_id")
		set("contract_id", contract, e)
		set("milestone_id", event.EntityId, nil)
	case models.EventWithdrawalRequested:
		p.script = numscriptWithdrawalReserved
		amt, e := amount("amount")
		set("amount", amt, e)
		set("available", availableAccount(event.RecipientId), nil)
		set("withdrawal_id", event.EntityId, nil)
	case models.EventWithdrawalCompleted:
		p.script = numscriptWithdrawalPaid
		final, e := amount("final_amount")
		set("final_amount", final, e)
		fee, e := amount("processing_fee")
		if fee == "0" {
			p.script = numscriptWithdrawalPaidNoFee
		} else {
			set("fee", fee, e)
		}
		set("withdrawal_id", event.EntityId, nil)
	case models.EventWithdrawalFailed:
		p.script = numscriptWithdrawalRefunded
		amt, e := amount("amount")
		set("amount", amt, e)
		set("available", availableAccount(event.RecipientId), nil)
		set("withdrawal_id", event.EntityId, nil)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}
