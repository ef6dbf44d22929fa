package events

import (
	"context"
	"errors"

	"OrderSettlement/internal/models"

	"github.com/Shopify/sarama"
)

// KafkaPublisher keys every message by aggregate id so that one order's
// events stay on one partition, in order.
type KafkaPublisher struct {
	topic    string
	producer sarama.SyncProducer
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Idempotent = true
	conf.Net.MaxOpenRequests = 1
	conf.Version = sarama.V2_1_0_0

	client, err := sarama.NewClient(brokers, conf)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewKafkaPublisherFromProducer(producer, topic), nil
}

func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, producer: producer}
}

func (p *KafkaPublisher) Publish(_ context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := p.toKafkaMessages(events)
	if err != nil {
		return err
	}
	return p.producer.SendMessages(msgs)
}

func (p *KafkaPublisher) toKafkaMessages(events []models.Event) ([]*sarama.ProducerMessage, error) {
	res := make([]*sarama.ProducerMessage, 0, len(events))
	for _, ev := range events {
		body, err := Encode(ev)
		if err != nil {
			return nil, err
		}
		res = append(res, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.AggregateID),
			Value: sarama.ByteEncoder(body),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event_type"), Value: []byte(ev.Type)},
				{Key: []byte("event_id"), Value: []byte(ev.EventID)},
			},
			Timestamp: ev.CreatedAt,
		})
	}
	return res, nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
