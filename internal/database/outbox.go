package database

import (
	"context"
	"fmt"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) EnqueueEvents(ctx context.Context, events ...models.OutboxEvent) error {
	return enqueueEvents(ctx, s.conn(), events, time.Now().UTC())
}

func enqueueEvents(ctx context.Context, c *conn, events []models.OutboxEvent, now time.Time) error {
	for _, ev := range events {
		if ev.Id == "" {
			ev.Id = uuid.New().String()
		}
		next := ev.NextAttemptAt
		if next.IsZero() {
			next = now
		}
		payload, err := encodeMap(ev.Payload)
		if err != nil {
			return err
		}
		_, err = c.exec(ctx, queryInsertOutboxEvent, ev.Id, ev.EventType, ev.EntityId, ev.RecipientId, payload, next, now)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s event: %w", ev.EventType, err)
		}
	}
	return nil
}

func (s *Service) FetchDueEvents(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.conn().query(ctx, queryFetchDueOutboxEvents, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox events: %w", err)
	}
	defer closeRows(rows)

	var events []models.OutboxEvent
	for rows.Next() {
		ev, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return events, nil
}

func (s *Service) MarkEventDelivered(ctx context.Context, eventId string, at time.Time) error {
	result, err := s.conn().exec(ctx, queryMarkOutboxDelivered, at.UTC(), eventId)
	if err != nil {
		return fmt.Errorf("failed to mark event delivered: %w", err)
	}
	ok, err := requireOneRow(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: pending outbox event %s", store.ErrNotFound, eventId)
	}
	return nil
}

func (s *Service) MarkEventFailed(ctx context.Context, eventId, lastError string, nextAttemptAt time.Time, dead bool) error {
	status := models.OutboxPending
	if dead {
		status = models.OutboxDead
	}
	result, err := s.conn().exec(ctx, queryMarkOutboxFailed, string(status), lastError, nextAttemptAt.UTC(), eventId)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	ok, err := requireOneRow(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: pending outbox event %s", store.ErrNotFound, eventId)
	}
	if dead {
		zap.L().Error("Outbox event exhausted retries",
			zap.String("event_id", eventId),
			zap.String("last_error", lastError))
	}
	return nil
}
