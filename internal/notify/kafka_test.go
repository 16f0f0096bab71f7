package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"escrow-settlement-go/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaSink_Publishes(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := NewKafkaSink(producer, "escrow.events")
	defer func() { require.NoError(t, sink.Close()) }()

	event := models.OutboxEvent{
		Id:          "e-1",
		EventType:   models.EventPaymentReleased,
		EntityId:    "m-1",
		RecipientId: "f-1",
		Payload:     map[string]string{"amount": "50.00"},
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "escrow.events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "m-1" {
			return errors.New("message not keyed by entity id")
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		if env.Id != "e-1" || env.Type != models.EventPaymentReleased || env.Payload["amount"] != "50.00" {
			return errors.New("unexpected envelope")
		}
		return nil
	})

	require.NoError(t, sink.Notify(context.Background(), event))
}

func TestKafkaSink_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := NewKafkaSink(producer, "escrow.events")
	defer func() { require.NoError(t, sink.Close()) }()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := sink.Notify(context.Background(), models.OutboxEvent{Id: "e-1", EntityId: "w-1"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Equal(t, "kafka", sink.Name())
}

func TestKafkaSink_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := NewKafkaSink(producer, "escrow.events")
	defer func() { require.NoError(t, sink.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sink.Notify(ctx, models.OutboxEvent{Id: "e-1"}), context.Canceled)
}

func TestNewKafkaProducer_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaProducer(models.KafkaConfig{})
	require.Error(t, err)
}
