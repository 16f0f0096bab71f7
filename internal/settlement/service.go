package settlement

import (
	"context"
	"fmt"
	"time"

	"escrow-settlement-go/internal/metrics"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BalanceInvalidator drops cached balances after a mutation.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, freelancerId string) error
}

// Dependencies are shared by the settlement services.
type Dependencies struct {
	Store   store.LedgerStore
	Cache   BalanceInvalidator // optional
	Metrics *metrics.Metrics   // optional
	Clock   func() time.Time   // defaults to time.Now in UTC
}

type base struct {
	store   store.LedgerStore
	cache   BalanceInvalidator
	metrics *metrics.Metrics
	clock   func() time.Time
}

func newBase(d Dependencies) base {
	clock := d.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return base{store: d.Store, cache: d.Cache, metrics: d.Metrics, clock: clock}
}

func (b *base) now() time.Time {
	return b.clock().UTC()
}

func (b *base) observe(operation string, start time.Time, err error) {
	b.metrics.ObserveSettlement(operation, Outcome(err), time.Since(start))
}

func (b *base) invalidate(ctx context.Context, freelancerId string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Invalidate(ctx, freelancerId); err != nil {
		zap.L().Warn("Failed to invalidate cached balance",
			zap.String("freelancer_id", freelancerId),
			zap.Error(err))
	}
}

// escalate reports ledger drift that an operator has to reconcile by hand.
func (b *base) escalate(reason, msg string, fields ...zap.Field) {
	b.metrics.IncIntegrityViolation(reason)
	fields = append(fields, zap.String("reason", reason), zap.Bool("manual_reconciliation", true))
	zap.L().Error(msg, fields...)
}

func (b *base) account(ctx context.Context, accountId string, role models.AccountRole) (*models.Account, error) {
	account, err := b.store.GetAccount(ctx, accountId)
	if err != nil {
		return nil, fromStore(err, "load account")
	}
	if account.Role != role {
		return nil, failure(ErrForbidden, "account %s is not a %s", accountId, role)
	}
	return account, nil
}

// newEvent builds an outbox event. The id is derived from its content and the
// time of the transition, so enqueueing the same event twice is a no-op.
func newEvent(eventType, entityId, recipientId string, at time.Time, payload map[string]string) models.OutboxEvent {
	name := fmt.Sprintf("%s|%s|%s|%d", eventType, entityId, recipientId, at.UnixNano())
	return models.OutboxEvent{
		Id:            uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(),
		EventType:     eventType,
		EntityId:      entityId,
		RecipientId:   recipientId,
		Payload:       payload,
		Status:        models.OutboxPending,
		NextAttemptAt: at,
		CreatedAt:     at,
	}
}

// entryMetadata merges request metadata from ctx into fields.
func entryMetadata(ctx context.Context, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields)+3)
	for k, v := range fields {
		out[k] = v
	}
	if md := models.GetRequestMetadata(ctx); md != nil {
		if md.RequestId != "" {
			out["request_id"] = md.RequestId
		}
		if md.ActorId != "" {
			out["actor_id"] = md.ActorId
		}
		if md.Source != "" {
			out["source"] = md.Source
		}
	}
	return out
}
