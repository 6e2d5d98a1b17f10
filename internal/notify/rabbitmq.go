package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wa-bot-go/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const routingPrefix = "whatsapp.bot."

// RoutingKey returns the topic routing key for an event.
func RoutingKey(event Event) string {
	return routingPrefix + string(event)
}

// RabbitMQ publishes events to a durable topic exchange.
type RabbitMQ struct {
	url      string
	exchange string

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRabbitMQ dials the broker and keeps the connection alive in the background.
func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	p := &RabbitMQ{
		url:      url,
		exchange: exchange,
		stop:     make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	go p.reconnectLoop()
	return p, nil
}

func (p *RabbitMQ) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.connected = true
	p.mu.Unlock()

	logger.Info("Connected to RabbitMQ", "exchange", p.exchange)
	return nil
}

func (p *RabbitMQ) reconnectLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		ok := p.connected && p.conn != nil && !p.conn.IsClosed()
		p.mu.Unlock()
		if ok {
			continue
		}

		logger.Info("Attempting to reconnect to RabbitMQ...")
		for i := 0; i < 5; i++ {
			if err := p.connect(); err != nil {
				logger.Error("Failed to reconnect to RabbitMQ", "error", err, "attempt", i+1)
				select {
				case <-p.stop:
					return
				case <-time.After(time.Second * time.Duration(i+1)):
				}
				continue
			}
			break
		}
	}
}

func (p *RabbitMQ) Publish(ctx context.Context, event Event, payload any) {
	if err := p.publish(ctx, event, payload); err != nil {
		logger.Warn("Failed to publish event", "event", string(event), "error", err)
	}
}

func (p *RabbitMQ) publish(ctx context.Context, event Event, payload any) error {
	p.mu.Lock()
	ch, connected := p.channel, p.connected
	p.mu.Unlock()
	if !connected || ch == nil {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	body, err := json.Marshal(NewEnvelope(event, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := RoutingKey(event)
	err = ch.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Debug("Event published to RabbitMQ", "event", string(event), "routing_key", routingKey)
	return nil
}

func (p *RabbitMQ) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connected = false
	return nil
}
