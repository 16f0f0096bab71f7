package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"escrow-settlement-go/internal/database"
	"escrow-settlement-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	err    error
	events []models.OutboxEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Notify(_ context.Context, event models.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func newOutboxStore(t *testing.T) *database.Service {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "outbox.db"),
		MaxOpenConns: 2,
		PingTimeout:  time.Second,
		BusyTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestDispatchOnce_Delivers(t *testing.T) {
	ctx := context.Background()
	db := newOutboxStore(t)
	sink := &recordingSink{name: "recording"}
	d := NewDispatcher(DispatcherConfig{Store: db, Sinks: []Sink{LogSink{}, sink}})

	require.NoError(t, db.EnqueueEvents(ctx,
		models.OutboxEvent{Id: "e-1", EventType: models.EventEscrowFunded, EntityId: "c-1"},
		models.OutboxEvent{Id: "e-2", EventType: models.EventPaymentReleased, EntityId: "m-1"},
	))

	delivered, failed, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Zero(t, failed)
	assert.Len(t, sink.events, 2)

	// Delivered events are not picked up again.
	delivered, _, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestDispatchOnce_RetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	db := newOutboxStore(t)
	ok := &recordingSink{name: "ok"}
	broken := &recordingSink{name: "broken", err: errors.New("connection refused")}
	d := NewDispatcher(DispatcherConfig{
		Store:       db,
		Sinks:       []Sink{ok, broken},
		MaxAttempts: 2,
		BaseBackoff: time.Minute,
		MaxBackoff:  time.Hour,
	})
	clock := time.Now().UTC()
	d.now = func() time.Time { return clock }

	require.NoError(t, db.EnqueueEvents(ctx, models.OutboxEvent{Id: "e-1", EventType: models.EventWithdrawalFailed, NextAttemptAt: clock}))

	_, failed, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// Backed off for a minute.
	clock = clock.Add(30 * time.Second)
	_, failed, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)

	clock = clock.Add(time.Minute)
	due, err := db.FetchDueEvents(ctx, clock, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Contains(t, due[0].LastError, "broken: connection refused")

	_, failed, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// Second failure hits MaxAttempts: the event is dead and never retried.
	due, err = db.FetchDueEvents(ctx, clock.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Len(t, broken.events, 2)
}

func TestBackoff(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second})

	assert.Equal(t, time.Second, d.Backoff(1))
	assert.Equal(t, 2*time.Second, d.Backoff(2))
	assert.Equal(t, 4*time.Second, d.Backoff(3))
	assert.Equal(t, 8*time.Second, d.Backoff(4))
	assert.Equal(t, 10*time.Second, d.Backoff(5))
	assert.Equal(t, 10*time.Second, d.Backoff(50))
}

func TestDispatcher_StartStop(t *testing.T) {
	db := newOutboxStore(t)
	sink := &recordingSink{name: "recording"}
	d := NewDispatcher(DispatcherConfig{Store: db, Sinks: []Sink{sink}, PollingInterval: 10 * time.Millisecond})

	require.NoError(t, db.EnqueueEvents(context.Background(), models.OutboxEvent{Id: "e-1", EventType: models.EventMilestoneApproved}))
	d.Start(context.Background())

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.events) == 1
	}, 2*time.Second, 10*time.Millisecond)
	d.Stop()
}
