package formance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"escrow-settlement-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// assetPrecision maps currency codes to their decimal precision.
var assetPrecision = map[string]int{
	"USD":  2,
	"EUR":  2,
	"GBP":  2,
	"USDC": 6,
}

// JournalMirror replays money-moving outbox events into a Formance ledger as
// Numscript transactions. It is a read model for auditors; the SQL ledger
// remains authoritative.
type JournalMirror struct {
	client   *v3.Formance
	ledger   string
	currency string
}

// NewJournalMirror connects to the stack and creates the ledger if it doesn't already exist.
func NewJournalMirror(ctx context.Context, cfg models.FormanceConfig, currency string) (*JournalMirror, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance mirror needs a stack url and client credentials")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "escrow"
	}

	m := &JournalMirror{
		client: v3.New(
			v3.WithServerURL(cfg.StackURL),
			v3.WithSecurity(shared.Security{
				ClientID:     v3.Pointer(cfg.ClientID),
				ClientSecret: v3.Pointer(cfg.ClientSecret),
			}),
		),
		ledger:   cfg.LedgerName,
		currency: currency,
	}
	if err := m.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("unable to create formance ledger %s: %w", cfg.LedgerName, err)
	}

	zap.L().Info("Mirroring ledger events to Formance",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))
	return m, nil
}

func (m *JournalMirror) ensureLedger(ctx context.Context) error {
	_, err := m.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: m.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "escrow-settlement",
			},
		},
	})
	if code, ok := errorCode(err); ok && code == shared.V2ErrorsEnumLedgerAlreadyExists {
		zap.L().Debug("Formance ledger exists", zap.String("ledger", m.ledger))
		return nil
	}
	if err != nil {
		return err
	}
	zap.L().Info("Formance ledger created", zap.String("ledger", m.ledger))
	return nil
}

// formanceAsset returns the UMN notation for symbol, e.g. "USD/2".
func formanceAsset(symbol string) string {
	return symbol + "/" + strconv.Itoa(precisionFor(symbol))
}

func precisionFor(symbol string) int {
	p, ok := assetPrecision[symbol]
	if !ok {
		return 2
	}
	return p
}

func errorCode(err error) (shared.V2ErrorsEnum, bool) {
	var apiErr *sdkerrors.V2ErrorResponse
	if !errors.As(err, &apiErr) {
		return "", false
	}
	return apiErr.ErrorCode, true
}

// isConflictError reports a duplicate transaction reference.
func isConflictError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == shared.V2ErrorsEnumConflict
}

func isNotFoundError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == shared.V2ErrorsEnumNotFound
}
