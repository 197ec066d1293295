// Package kafka bridges gateway events between process instances. Every
// instance publishes its events to a shared topic and consumes everyone
// else's, so a push raised on one process reaches sockets connected to
// another.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	appchat "huddle/internal/app/chat"
)

// envelope wraps an event with its origin instance so consumers can drop
// their own publications.
type envelope struct {
	Origin string        `json:"origin"`
	Event  appchat.Event `json:"event"`
}

// EventProducer publishes gateway events to the shared topic.
type EventProducer struct {
	sync       sarama.SyncProducer
	topic      string
	instanceID string
}

func NewEventProducer(brokers []string, topic, instanceID string, cfg *sarama.Config) (*EventProducer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Return.Successes = true
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &EventProducer{sync: sync, topic: topic, instanceID: instanceID}, nil
}

// Publish sends the event keyed by its first target user, keeping one user's
// events in order; broadcasts share a single key.
func (p *EventProducer) Publish(ctx context.Context, evt appchat.Event) error {
	payload, err := json.Marshal(envelope{Origin: p.instanceID, Event: evt})
	if err != nil {
		return err
	}
	key := "broadcast"
	if len(evt.Users) > 0 {
		key = evt.Users[0]
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err = p.sync.SendMessage(msg)
	return err
}

func (p *EventProducer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
