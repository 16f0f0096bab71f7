package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-settlement-go/internal/metrics"
	"escrow-settlement-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowProvider struct {
	delay time.Duration
}

func (p slowProvider) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	select {
	case <-time.After(p.delay):
		return "tr-" + req.IdempotencyKey, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p slowProvider) TransferStatus(ctx context.Context, transferId string) (*models.TransferStatus, error) {
	select {
	case <-time.After(p.delay):
		return &models.TransferStatus{TransferId: transferId, State: models.TransferCompleted}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()
	req := TransferRequest{Amount: decimal.NewFromInt(10), IdempotencyKey: "w-1"}

	fast := WithTimeout(slowProvider{}, time.Second, nil)
	id, err := fast.CreateTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "tr-w-1", id)

	slow := WithTimeout(slowProvider{delay: time.Second}, 20*time.Millisecond, metrics.New(prometheus.NewRegistry()))
	_, err = slow.CreateTransfer(ctx, req)
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = slow.TransferStatus(ctx, "tr-w-1")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWithTimeout_PassesThroughErrors(t *testing.T) {
	boom := errors.New("insufficient liquidity")
	p := WithTimeout(failingProvider{err: boom}, time.Second, nil)

	_, err := p.CreateTransfer(context.Background(), TransferRequest{IdempotencyKey: "w-1"})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "error", callStatus(err))
	assert.Equal(t, "ok", callStatus(nil))
}

type failingProvider struct{ err error }

func (p failingProvider) CreateTransfer(context.Context, TransferRequest) (string, error) {
	return "", p.err
}

func (p failingProvider) TransferStatus(context.Context, string) (*models.TransferStatus, error) {
	return nil, p.err
}

func TestManual(t *testing.T) {
	var m Manual

	id, err := m.CreateTransfer(context.Background(), TransferRequest{IdempotencyKey: "w-9"})
	require.NoError(t, err)
	assert.Equal(t, "manual:w-9", id)

	_, err = m.CreateTransfer(context.Background(), TransferRequest{})
	require.Error(t, err)

	status, err := m.TransferStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, status.State)
}
