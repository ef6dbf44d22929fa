package events

import (
	"context"

	"OrderSettlement/internal/models"

	"github.com/streadway/amqp"
)

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes to a durable topic exchange with the event type as
// routing key.
type AMQPPublisher struct {
	exchange string
	conn     *amqp.Connection
	ch       amqpChannel
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPPublisher{exchange: exchange, conn: conn, ch: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, events []models.Event) error {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := Encode(ev)
		if err != nil {
			return err
		}
		err = p.ch.Publish(p.exchange, string(ev.Type), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.EventID,
			Timestamp:    ev.CreatedAt,
			Type:         string(ev.Type),
			Body:         body,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
