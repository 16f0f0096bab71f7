package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-settlement-go/internal/metrics"
	"escrow-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrTimeout is returned when the provider does not answer within the bound.
var ErrTimeout = errors.New("payout provider timed out")

// TransferRequest describes a payout to an external account.
type TransferRequest struct {
	Amount         decimal.Decimal
	Destination    string
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Provider wraps an external payout network. Implementations are remote and
// fallible; callers must treat every error as a failed transfer.
type Provider interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
	TransferStatus(ctx context.Context, transferId string) (*models.TransferStatus, error)
}

type boundedProvider struct {
	next    Provider
	timeout time.Duration
	metrics *metrics.Metrics
}

// WithTimeout returns a Provider whose calls are cut off after timeout and recorded
// in m. A nil m disables metrics.
func WithTimeout(p Provider, timeout time.Duration, m *metrics.Metrics) Provider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &boundedProvider{next: p, timeout: timeout, metrics: m}
}

func (b *boundedProvider) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	transferId, err := b.next.CreateTransfer(callCtx, req)
	err = b.classify(callCtx, err)
	b.metrics.ObserveProviderCall("create_transfer", callStatus(err), time.Since(start))
	if err != nil {
		zap.L().Warn("Payout transfer creation failed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("amount", req.Amount.String()),
			zap.Duration("timeout", b.timeout),
			zap.Error(err))
		return "", err
	}
	return transferId, nil
}

func (b *boundedProvider) TransferStatus(ctx context.Context, transferId string) (*models.TransferStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	status, err := b.next.TransferStatus(callCtx, transferId)
	err = b.classify(callCtx, err)
	b.metrics.ObserveProviderCall("transfer_status", callStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (b *boundedProvider) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, b.timeout, err)
	}
	return err
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
