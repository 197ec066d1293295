package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	appchat "huddle/internal/app/chat"
)

// LocalDeliverer fans an event out to this instance's sockets only.
type LocalDeliverer interface {
	Deliver(evt appchat.Event)
}

// EventConsumer replays events published by other gateway instances into the
// local hub. Each instance runs its own consumer group so every instance
// sees every event.
type EventConsumer struct {
	group      sarama.ConsumerGroup
	topic      string
	instanceID string
	gateway    LocalDeliverer
	logger     *slog.Logger
}

func NewEventConsumer(brokers []string, topic, instanceID string, gateway LocalDeliverer, logger *slog.Logger, cfg *sarama.Config) (*EventConsumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	group, err := sarama.NewConsumerGroup(brokers, "huddle-gateway-"+instanceID, cfg)
	if err != nil {
		return nil, err
	}
	return &EventConsumer{
		group:      group,
		topic:      topic,
		instanceID: instanceID,
		gateway:    gateway,
		logger:     logger,
	}, nil
}

func (c *EventConsumer) Run(ctx context.Context) error {
	handler := bridgeHandler{instanceID: c.instanceID, gateway: c.gateway, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *EventConsumer) Close() error {
	return c.group.Close()
}

type bridgeHandler struct {
	instanceID string
	gateway    LocalDeliverer
	logger     *slog.Logger
}

func (h bridgeHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h bridgeHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h bridgeHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var env envelope
		if err := json.Unmarshal(message.Value, &env); err != nil {
			if h.logger != nil {
				h.logger.Warn("bridge event decode failed", "error", err)
			}
			sess.MarkMessage(message, "")
			continue
		}
		// Locally raised events were already delivered before publishing.
		if env.Origin != h.instanceID {
			h.gateway.Deliver(env.Event)
		}
		sess.MarkMessage(message, "")
	}
	return nil
}
