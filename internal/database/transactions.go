package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AppendTransactionLog records a money movement. The log is a projection of
// ledger history and never changes balances itself.
func (s *Service) AppendTransactionLog(ctx context.Context, entry models.TransactionLogEntry) (string, error) {
	return appendTransactionLog(ctx, s.conn(), entry)
}

func appendTransactionLog(ctx context.Context, c *conn, entry models.TransactionLogEntry) (string, error) {
	if entry.Id == "" {
		entry.Id = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	amount, err := toMinor(entry.Amount)
	if err != nil {
		return "", err
	}
	fee, err := toMinor(entry.Fee)
	if err != nil {
		return "", err
	}
	net, err := toMinor(entry.NetAmount)
	if err != nil {
		return "", err
	}
	metadata, err := encodeMap(entry.Metadata)
	if err != nil {
		return "", err
	}

	_, err = c.exec(ctx, queryInsertTransactionLog,
		entry.Id, string(entry.Type), entry.FromParty, entry.ToParty, amount, fee, net,
		entry.RelatedEntityId, entry.RelatedEntityType, string(entry.Status), entry.Description, metadata,
		entry.CreatedAt, entry.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert transaction log entry: %w", err)
	}

	zap.L().Debug("Transaction log entry appended",
		zap.String("transaction_id", entry.Id),
		zap.String("type", string(entry.Type)),
		zap.String("related_entity_id", entry.RelatedEntityId),
		zap.String("amount", entry.Amount.String()))
	return entry.Id, nil
}

// UpdateTransactionLogByRelatedEntity reflects a status change that has already
// been committed on the owning withdrawal or milestone.
func (s *Service) UpdateTransactionLogByRelatedEntity(ctx context.Context, entityId, entityType string, patch store.TransactionLogPatch) error {
	return updateTransactionLog(ctx, s.conn(), entityId, entityType, patch)
}

func updateTransactionLog(ctx context.Context, c *conn, entityId, entityType string, patch store.TransactionLogPatch) error {
	type logRow struct {
		id          string
		description string
		metadata    map[string]string
	}

	rows, err := c.query(ctx, queryGetTransactionLogByEntity, entityId, entityType)
	if err != nil {
		return fmt.Errorf("failed to query transaction log: %w", err)
	}
	var matched []logRow
	for rows.Next() {
		var r logRow
		var raw string
		if err := rows.Scan(&r.id, &r.description, &raw); err != nil {
			closeRows(rows)
			return fmt.Errorf("failed to scan transaction log row: %w", err)
		}
		if r.metadata, err = decodeMap(raw); err != nil {
			closeRows(rows)
			return err
		}
		matched = append(matched, r)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows)
		return fmt.Errorf("error iterating transaction log rows: %w", err)
	}
	closeRows(rows)

	if len(matched) == 0 {
		return fmt.Errorf("%w: transaction log for %s %s", store.ErrNotFound, entityType, entityId)
	}

	at := patch.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, r := range matched {
		description := r.description
		if patch.Description != "" {
			description = strings.TrimPrefix(description+"; "+patch.Description, "; ")
		}
		for k, v := range patch.Metadata {
			r.metadata[k] = v
		}
		metadata, err := encodeMap(r.metadata)
		if err != nil {
			return err
		}
		if _, err := c.exec(ctx, queryUpdateTransactionLog, string(patch.Status), description, metadata, at, r.id); err != nil {
			return fmt.Errorf("failed to update transaction log entry: %w", err)
		}
	}
	return nil
}

// ListTransactionLog returns entries where partyId is either side of the movement
func (s *Service) ListTransactionLog(ctx context.Context, partyId string, limit, offset int) ([]models.TransactionLogEntry, error) {
	zap.L().Debug("Getting transaction log",
		zap.String("party_id", partyId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.conn().query(ctx, queryListTransactionLog, partyId, partyId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction log", zap.String("party_id", partyId), zap.Error(err))
		return nil, fmt.Errorf("failed to get transaction log: %w", err)
	}
	defer closeRows(rows)

	var entries []models.TransactionLogEntry
	for rows.Next() {
		entry, err := scanTransactionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction log entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction log: %w", err)
	}
	return entries, nil
}

// SumTransactionLog aggregates the movements that explain a freelancer's balances.
func (s *Service) SumTransactionLog(ctx context.Context, freelancerId string) (store.LedgerTotals, error) {
	var funded, released, withdrawn int64
	err := s.conn().queryRow(ctx, querySumTransactionLog, freelancerId, freelancerId).Scan(&funded, &released, &withdrawn)
	if err != nil {
		return store.LedgerTotals{}, fmt.Errorf("failed to sum transaction log: %w", err)
	}
	return store.LedgerTotals{
		Funded:    fromMinor(funded),
		Released:  fromMinor(released),
		Withdrawn: fromMinor(withdrawn),
	}, nil
}
