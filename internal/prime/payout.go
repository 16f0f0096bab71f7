package prime

import (
	"context"
	"fmt"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/payout"

	"go.uber.org/zap"
)

// withdrawalAPI is the part of Service the payout provider needs.
type withdrawalAPI interface {
	CreateWithdrawal(ctx context.Context, w WalletWithdrawal) (string, error)
	RecentWithdrawals(ctx context.Context, portfolioId, walletId string, since time.Time) ([]WalletTransaction, error)
}

// PayoutProviderConfig contains configuration for PayoutProvider
type PayoutProviderConfig struct {
	PortfolioId    string
	WalletId       string
	Asset          string        // e.g. USDC or USDC-base-mainnet
	LookbackWindow time.Duration // how far back TransferStatus searches
}

// PayoutProvider pays withdrawals out of a Prime wallet. Prime transactions
// carry the idempotency key supplied at creation, so the key doubles as the
// transfer id and status lookups never depend on local state.
type PayoutProvider struct {
	api            withdrawalAPI
	portfolioId    string
	walletId       string
	asset          string
	lookbackWindow time.Duration
}

func NewPayoutProvider(api withdrawalAPI, cfg PayoutProviderConfig) (*PayoutProvider, error) {
	if cfg.PortfolioId == "" || cfg.WalletId == "" {
		return nil, fmt.Errorf("prime payouts need a portfolio id and a wallet id")
	}
	if cfg.Asset == "" {
		cfg.Asset = "USDC"
	}
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = 7 * 24 * time.Hour
	}
	return &PayoutProvider{
		api:            api,
		portfolioId:    cfg.PortfolioId,
		walletId:       cfg.WalletId,
		asset:          cfg.Asset,
		lookbackWindow: cfg.LookbackWindow,
	}, nil
}

func (p *PayoutProvider) CreateTransfer(ctx context.Context, req payout.TransferRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", fmt.Errorf("prime transfer requires an idempotency key")
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("prime transfer amount must be positive, got %s", req.Amount)
	}

	activityId, err := p.api.CreateWithdrawal(ctx, WalletWithdrawal{
		PortfolioId:    p.portfolioId,
		WalletId:       p.walletId,
		Address:        req.Destination,
		Amount:         req.Amount.String(),
		Asset:          p.asset,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		zap.L().Error("Prime withdrawal rejected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("amount", req.Amount.String()),
			zap.String("asset", p.asset),
			zap.Error(err))
		return "", err
	}

	zap.L().Info("Payout submitted to Prime",
		zap.String("activity_id", activityId),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("withdrawal_id", req.Metadata["withdrawal_id"]))
	return req.IdempotencyKey, nil
}

func (p *PayoutProvider) TransferStatus(ctx context.Context, transferId string) (*models.TransferStatus, error) {
	since := time.Now().UTC().Add(-p.lookbackWindow)
	txs, err := p.api.RecentWithdrawals(ctx, p.portfolioId, p.walletId, since)
	if err != nil {
		return nil, err
	}

	for _, tx := range txs {
		if tx.IdempotencyKey != transferId && tx.Id != transferId {
			continue
		}
		status := &models.TransferStatus{
			TransferId:     transferId,
			State:          transferState(tx.Status),
			ProviderStatus: tx.Status,
		}
		switch status.State {
		case models.TransferCompleted:
			status.CompletedAt = tx.CompletedAt
		case models.TransferFailed:
			status.Reason = "prime withdrawal ended with " + tx.Status
		}
		return status, nil
	}

	// Not visible yet; Prime lists a withdrawal once it has been approved.
	return &models.TransferStatus{
		TransferId:     transferId,
		State:          models.TransferPending,
		ProviderStatus: "NOT_FOUND",
	}, nil
}

func transferState(primeStatus string) models.TransferState {
	switch primeStatus {
	case "TRANSACTION_DONE":
		return models.TransferCompleted
	case "TRANSACTION_CANCELLED", "TRANSACTION_REJECTED", "TRANSACTION_FAILED", "TRANSACTION_EXPIRED":
		return models.TransferFailed
	default:
		return models.TransferPending
	}
}
