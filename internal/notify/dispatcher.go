package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-settlement-go/internal/metrics"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"go.uber.org/zap"
)

// DispatcherConfig contains configuration for Dispatcher
type DispatcherConfig struct {
	Store           store.LedgerStore
	Sinks           []Sink
	Metrics         *metrics.Metrics
	PollingInterval time.Duration
	BatchSize       int
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
}

// Dispatcher drains the outbox into the configured sinks. An event counts as
// delivered only when every sink accepted it; otherwise it is retried with
// exponential backoff until MaxAttempts, after which it is marked dead.
type Dispatcher struct {
	store           store.LedgerStore
	sinks           []Sink
	metrics         *metrics.Metrics
	pollingInterval time.Duration
	batchSize       int
	maxAttempts     int
	baseBackoff     time.Duration
	maxBackoff      time.Duration
	now             func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		store:           cfg.Store,
		sinks:           cfg.Sinks,
		metrics:         cfg.Metrics,
		pollingInterval: cfg.PollingInterval,
		batchSize:       cfg.BatchSize,
		maxAttempts:     cfg.MaxAttempts,
		baseBackoff:     cfg.BaseBackoff,
		maxBackoff:      cfg.MaxBackoff,
		now:             func() time.Time { return time.Now().UTC() },
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
	if d.pollingInterval <= 0 {
		d.pollingInterval = 5 * time.Second
	}
	if d.batchSize <= 0 {
		d.batchSize = 100
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 10
	}
	if d.baseBackoff <= 0 {
		d.baseBackoff = 2 * time.Second
	}
	if d.maxBackoff < d.baseBackoff {
		d.maxBackoff = d.baseBackoff
	}
	return d
}

// Start runs the dispatch loop in the background until Stop or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	zap.L().Info("Starting outbox dispatcher",
		zap.Strings("sinks", names),
		zap.Duration("polling_interval", d.pollingInterval))

	go d.loop(ctx)
}

func (d *Dispatcher) Stop() {
	zap.L().Info("Stopping outbox dispatcher")
	close(d.stopChan)
	<-d.doneChan
	zap.L().Info("Outbox dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.pollingInterval)
	defer ticker.Stop()

	for {
		if _, _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("Outbox dispatch failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// DispatchOnce delivers one batch of due events.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (delivered, failed int, err error) {
	events, err := d.store.FetchDueEvents(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return delivered, failed, ctx.Err()
		}
		if deliverErr := d.deliver(ctx, event); deliverErr != nil {
			failed++
			d.reschedule(ctx, event, deliverErr)
			continue
		}
		if err := d.store.MarkEventDelivered(ctx, event.Id, d.now()); err != nil {
			zap.L().Error("Failed to mark event delivered",
				zap.String("event_id", event.Id),
				zap.Error(err))
			continue
		}
		d.metrics.IncOutboxDelivery("delivered")
		delivered++
	}
	return delivered, failed, nil
}

func (d *Dispatcher) deliver(ctx context.Context, event models.OutboxEvent) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) reschedule(ctx context.Context, event models.OutboxEvent, cause error) {
	attempts := event.Attempts + 1
	dead := attempts >= d.maxAttempts
	next := d.now().Add(d.Backoff(attempts))

	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	msg = strings.ReplaceAll(msg, "\n", "; ")

	if err := d.store.MarkEventFailed(ctx, event.Id, msg, next, dead); err != nil {
		zap.L().Error("Failed to reschedule event",
			zap.String("event_id", event.Id),
			zap.Error(err))
		return
	}
	if dead {
		d.metrics.IncOutboxDelivery("dead")
		return
	}
	d.metrics.IncOutboxDelivery("retry")
	zap.L().Warn("Event delivery failed, will retry",
		zap.String("event_id", event.Id),
		zap.String("event_type", event.EventType),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause))
}

// Backoff returns the delay before the given attempt number is retried.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	delay := d.baseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return delay
}
