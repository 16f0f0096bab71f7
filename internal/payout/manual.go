package payout

import (
	"context"
	"fmt"

	"escrow-settlement-go/internal/models"
)

// Manual is used when no payout network is configured. Transfers are executed
// by an operator outside the system and confirmed with the admin tooling, so
// status is always reported as pending.
type Manual struct{}

func (Manual) CreateTransfer(_ context.Context, req TransferRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", fmt.Errorf("manual transfer requires an idempotency key")
	}
	return "manual:" + req.IdempotencyKey, nil
}

func (Manual) TransferStatus(_ context.Context, transferId string) (*models.TransferStatus, error) {
	return &models.TransferStatus{
		TransferId:     transferId,
		State:          models.TransferPending,
		ProviderStatus: "AWAITING_OPERATOR",
	}, nil
}
