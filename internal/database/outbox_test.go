package database

import (
	"context"
	"testing"
	"time"

	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	now := time.Now().UTC()

	ev := models.OutboxEvent{
		Id:          "milestone.submitted:m-1",
		EventType:   models.EventMilestoneSubmitted,
		EntityId:    "m-1",
		RecipientId: "client-1",
		Payload:     map[string]string{"amount": "100.00"},
	}
	require.NoError(t, svc.EnqueueEvents(ctx, ev))
	// Same deterministic id: ignored.
	require.NoError(t, svc.EnqueueEvents(ctx, ev))

	due, err := svc.FetchDueEvents(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.OutboxPending, due[0].Status)
	assert.Equal(t, "100.00", due[0].Payload["amount"])

	// Back off: not due until the next attempt time.
	require.NoError(t, svc.MarkEventFailed(ctx, ev.Id, "broker down", now.Add(time.Hour), false))
	due, err = svc.FetchDueEvents(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = svc.FetchDueEvents(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "broker down", due[0].LastError)

	require.NoError(t, svc.MarkEventDelivered(ctx, ev.Id, now))
	due, err = svc.FetchDueEvents(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	err = svc.MarkEventDelivered(ctx, ev.Id, now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOutbox_DeadLetter(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	now := time.Now().UTC()

	require.NoError(t, svc.EnqueueEvents(ctx, models.OutboxEvent{Id: "e-1", EventType: models.EventEscrowFunded}))
	require.NoError(t, svc.MarkEventFailed(ctx, "e-1", "gave up", now, true))

	due, err := svc.FetchDueEvents(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	err = svc.MarkEventFailed(ctx, "e-1", "again", now, false)
	require.ErrorIs(t, err, store.ErrNotFound)
}
