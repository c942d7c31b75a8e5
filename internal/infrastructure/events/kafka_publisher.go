package events

import (
	"context"
	"encoding/json"
	"log"

	"shop_payments/internal/usecase/interfaces"

	"github.com/IBM/sarama"
)

// KafkaPublisher emits lifecycle events to Kafka, one topic per event name
// (payment.created, payment.succeeded, ...). Delivery is at-most-once from
// the core's point of view: a failed send is logged and not retried.

type KafkaPublisher struct {
	producer sarama.SyncProducer
}

var _ interfaces.IEventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(broker string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer([]string{broker}, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("[payment][events] kafka producer initialized broker=%s", broker)
	return &KafkaPublisher{producer: producer}, nil
}

func (p *KafkaPublisher) Publish(_ context.Context, eventName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: eventName,
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return err
	}

	log.Printf("[payment][events] published event=%s payload_len=%d", eventName, len(data))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher is the fallback when no broker is configured: events are
// only logged. Useful for local runs and tests.

type LogPublisher struct{}

var _ interfaces.IEventPublisher = (*LogPublisher)(nil)

func (LogPublisher) Publish(_ context.Context, eventName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	log.Printf("[payment][events] (log-only) event=%s payload=%s", eventName, data)
	return nil
}
