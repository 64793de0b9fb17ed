package broker

import (
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"your.org/whatsmeow-buttons/internal/config"
	ilog "your.org/whatsmeow-buttons/internal/log"
)

// WebhookPublisher pushes Cloud-style webhook payloads (inbound replies,
// receipts, sent statuses, own interactive messages) to a direct exchange
// keyed by the session phone. One connection and channel are shared and
// re-dialed when the broker drops them.
type WebhookPublisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var (
	webhookPub     *WebhookPublisher
	webhookPubOnce sync.Once
)

// InitWebhookPublisher initialises the global publisher. The first call
// wins; later calls return its result.
func InitWebhookPublisher(cfg *config.Config) error {
	var initErr error
	webhookPubOnce.Do(func() {
		webhookPub = &WebhookPublisher{url: cfg.AMQPURL, exchange: cfg.AMQPWebhookExchange}
		initErr = webhookPub.ensure()
	})
	return initErr
}

// envelope wraps a payload the way UnoAPI's bridge consumer expects it.
func envelope(cloudPayload any) ([]byte, error) {
	return json.Marshal(map[string]any{"payload": cloudPayload})
}

func (p *WebhookPublisher) ensure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == "" {
		return fmt.Errorf("AMQP URL not configured")
	}
	if p.exchange == "" {
		return fmt.Errorf("AMQP webhook exchange not configured")
	}
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"direct",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.ch = ch
	ilog.Infof("AMQP webhook publisher connected: exchange=%s", p.exchange)
	return nil
}

func (p *WebhookPublisher) publish(routingKey string, body []byte) error {
	if err := p.ensure(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// PublishWebhook publishes a Cloud webhook payload. routingKey must be the
// session phone number (digits only).
func PublishWebhook(routingKey string, cloudPayload any) error {
	if webhookPub == nil {
		return fmt.Errorf("webhook publisher not initialised")
	}
	if routingKey == "" {
		return fmt.Errorf("empty routing key")
	}
	body, err := envelope(cloudPayload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := webhookPub.publish(routingKey, body); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	ilog.Debugf("amqp webhook published rk=%s bytes=%d", routingKey, len(body))
	return nil
}

// Close shuts down the shared connection.
func Close() error {
	if webhookPub == nil {
		return nil
	}
	webhookPub.mu.Lock()
	defer webhookPub.mu.Unlock()
	if webhookPub.conn == nil {
		return nil
	}
	err := webhookPub.conn.Close()
	webhookPub.conn, webhookPub.ch = nil, nil
	return err
}
