package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange order events are published to. The routing
// key is the order channel name.
const Exchange = "order_events"

// AMQP is a Broker over a RabbitMQ topic exchange. Each subscription gets an
// exclusive auto-delete queue bound to its channel.
type AMQP struct {
	conn *amqp.Connection
	log  *slog.Logger

	mu  sync.Mutex // guards pub; amqp channels are not safe for concurrent publishing
	pub *amqp.Channel
}

func DialAMQP(url string, log *slog.Logger) (*AMQP, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQP{conn: conn, pub: ch, log: log.With("component", "broker.amqp")}, nil
}

func (b *AMQP) Publish(ctx context.Context, channel string, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.pub.PublishWithContext(ctx, Exchange, channel, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        evt.Type,
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", channel, err)
	}
	return nil
}

func (b *AMQP) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, channel, Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind %s: %w", channel, err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", channel, err)
	}
	out := make(chan Event, memoryBuffer)
	go func() {
		defer close(out)
		for d := range msgs {
			var evt Event
			if err := json.Unmarshal(d.Body, &evt); err != nil {
				b.log.Warn("dropping undecodable event", "channel", channel, "err", err)
				continue
			}
			select {
			case out <- evt:
			default:
			}
		}
	}()
	return &Subscription{C: out, cancel: func() { _ = ch.Close() }}, nil
}

func (b *AMQP) Close() error {
	b.mu.Lock()
	_ = b.pub.Close()
	b.mu.Unlock()
	return b.conn.Close()
}
