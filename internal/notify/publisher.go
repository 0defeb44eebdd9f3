package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

var ErrPublisherClosed = errors.New("publisher closed")

// NopPublisher drops every event. Used when no bus is configured.
type NopPublisher struct{}

var _ interfaces.Publisher = NopPublisher{}

func (NopPublisher) Publish(context.Context, string, *types.Notification) error { return nil }
func (NopPublisher) Close() error                                               { return nil }

// AMQPPublisher publishes notifications to a durable topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	closed   bool
}

var _ interfaces.Publisher = (*AMQPPublisher)(nil)

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, n *types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    n.DeliveredAt,
		Type:         n.Type,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.ch.Close()
	return p.conn.Close()
}

// StreamPublisher appends notifications to a capped Redis stream, for
// deployments that already run Redis for billing leases.
type StreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

var _ interfaces.Publisher = (*StreamPublisher)(nil)

func NewStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = "tutorlink:events"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, routingKey string, n *types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"routing_key": routingKey,
			"payload":     string(body),
		},
	}).Err()
}

// Close leaves the client open; it is shared with the billing lease.
func (p *StreamPublisher) Close() error { return nil }
