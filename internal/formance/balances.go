package formance

import (
	"context"
	"fmt"
	"math/big"

	"escrow-settlement-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
)

// MirroredBalance reads a freelancer's balances as the mirror sees them, for
// comparison with the authoritative store.
func (m *JournalMirror) MirroredBalance(ctx context.Context, freelancerId string) (models.FreelancerBalance, error) {
	balance := models.FreelancerBalance{FreelancerId: freelancerId}
	for _, side := range []struct {
		address string
		into    *decimal.Decimal
	}{
		{pendingAccount(freelancerId), &balance.PendingBalance},
		{availableAccount(freelancerId), &balance.AvailableBalance},
	} {
		vols, err := m.volumes(ctx, side.address)
		if err != nil {
			return models.FreelancerBalance{}, err
		}
		*side.into = toDecimal(volumeBalance(vols, formanceAsset(m.currency)), m.currency)
	}
	return balance, nil
}

// volumes returns nil for an account the ledger has never touched.
func (m *JournalMirror) volumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := m.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  m.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	switch {
	case isNotFoundError(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("unable to read formance account %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance prefers the server-computed balance and falls back to input minus output.
func volumeBalance(vols map[string]shared.V2Volume, asset string) *big.Int {
	vol, ok := vols[asset]
	switch {
	case !ok:
		return nil
	case vol.Balance != nil:
		return vol.Balance
	case vol.Input == nil:
		return nil
	}
	net := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		net.Sub(net, vol.Output)
	}
	return net
}

// toDecimal scales minor units back to a currency amount.
func toDecimal(minor *big.Int, symbol string) decimal.Decimal {
	if minor == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(minor, -int32(precisionFor(symbol)))
}
