package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/tinyland-inc/picobridge/pkg/logger"
)

// AMQPSink publishes bridge events to a RabbitMQ topic exchange, one
// routing key per event name. Delivery is best-effort: publish failures are
// logged and dropped so the relay path is never coupled to broker health.
type AMQPSink struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPSink{conn: conn, channel: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		logger.ErrorCF("events", "Event marshal failed", map[string]any{"event": e.Name, "error": err.Error()})
		return
	}

	cid := e.CorrelationID
	if cid == "" {
		cid = uuid.NewString()
	}

	err = s.channel.PublishWithContext(
		ctx, s.exchange, e.Name, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     uuid.NewString(),
			CorrelationId: cid,
			Timestamp:     e.At,
			Body:          body,
		},
	)
	if err != nil {
		logger.WarnCF("events", "Event publish failed", map[string]any{"event": e.Name, "error": err.Error()})
	}
}

func (s *AMQPSink) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	return s.conn.Close()
}
