package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"your.org/whatsmeow-buttons/internal/config"
	"your.org/whatsmeow-buttons/internal/interactive"
	ilog "your.org/whatsmeow-buttons/internal/log"
	"your.org/whatsmeow-buttons/internal/provider"
)

// Envelope is the queue wrapper: { payload: {...}, id: "...", options: {...} }
type Envelope struct {
	Payload provider.OutgoingMessage `json:"payload"`
	ID      string                   `json:"id,omitempty"`
	Options *struct {
		Endpoint string `json:"endpoint,omitempty"`
		Priority int    `json:"priority,omitempty"`
	} `json:"options,omitempty"`
}

// Sender relays a decoded outgoing message.
type Sender interface {
	Send(ctx context.Context, msg provider.OutgoingMessage) (*provider.SendResult, error)
}

type Consumer struct {
	cfg    *config.Config
	sender Sender
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func NewConsumer(cfg *config.Config, sender Sender) (*Consumer, error) {
	if sender == nil {
		return nil, errors.New("amqp consumer: nil sender")
	}
	return &Consumer{cfg: cfg, sender: sender}, nil
}

func suffixFromRoutingKey(binding, rk string) string {
	prefix := binding
	if i := strings.IndexAny(binding, "*#"); i >= 0 {
		prefix = strings.TrimSuffix(binding[:i], ".")
	}
	if prefix != "" && strings.HasPrefix(rk, prefix+".") {
		return strings.TrimPrefix(rk, prefix+".")
	}
	parts := strings.Split(rk, ".")
	return parts[len(parts)-1]
}

// decodeBody accepts the envelope format or a bare OutgoingMessage. Status
// payloads coming back through the same exchange are reported as skip.
func decodeBody(body []byte) (msg provider.OutgoingMessage, skip bool, err error) {
	var probe struct {
		Payload map[string]any `json:"payload"`
	}
	if json.Unmarshal(body, &probe) == nil {
		if s, ok := probe.Payload["status"]; ok {
			mid, _ := probe.Payload["message_id"].(string)
			ilog.Debugf("skipping non-send payload status=%v message_id=%q", s, mid)
			return msg, true, nil
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Payload.IsEmpty() {
		var legacy provider.OutgoingMessage
		if err2 := json.Unmarshal(body, &legacy); err2 != nil {
			if err == nil {
				err = err2
			}
			return msg, false, fmt.Errorf("decode message: %w", err)
		}
		if legacy.IsEmpty() {
			return msg, false, errors.New("decode message: no sendable content")
		}
		env = Envelope{Payload: legacy}
	}
	if env.ID != "" && env.Payload.MessageID == "" {
		env.Payload.MessageID = env.ID
	}
	return env.Payload, false, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.cfg.AMQPURL == "" {
		ilog.Infof("AMQP URL is empty; skipping consumer startup")
		<-ctx.Done()
		return nil
	}
	conn, err := amqp.Dial(c.cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("failed to dial AMQP: %w", err)
	}
	c.conn = conn
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	c.ch = ch

	if err := declareTopology(ch, c.cfg); err != nil {
		return closeAll(err, ch, conn)
	}

	deliveries, err := ch.Consume(
		c.cfg.AMQPQueue,
		"",
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return closeAll(fmt.Errorf("failed to consume from queue: %w", err), ch, conn)
	}

	ilog.Infof("AMQP consumer connected, waiting for messages on %s", c.cfg.AMQPBinding)

	for {
		select {
		case <-ctx.Done():
			if err := ch.Close(); err != nil {
				ilog.Errorf("failed to close AMQP channel: %v", err)
			}
			if err := conn.Close(); err != nil {
				ilog.Errorf("failed to close AMQP connection: %v", err)
			}
			return nil

		case d, ok := <-deliveries:
			if !ok {
				time.Sleep(500 * time.Millisecond)
				return fmt.Errorf("AMQP deliveries channel closed")
			}
			if msg, phone, ok := c.prepare(d.RoutingKey, d.Body); ok {
				go c.dispatch(msg, phone, d.Body)
			}
		}
	}
}

// closeAll closes the closers in order after a startup failure and returns
// cause unchanged.
func closeAll(cause error, closers ...io.Closer) error {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			ilog.Warnf("close after %v: %v", cause, err)
		}
	}
	return cause
}

// prepare decodes a delivery and resolves the session from its routing key.
func (c *Consumer) prepare(routingKey string, body []byte) (provider.OutgoingMessage, string, bool) {
	msg, skip, err := decodeBody(body)
	if skip {
		return msg, "", false
	}
	if err != nil {
		ilog.Errorf("%v", err)
		return msg, "", false
	}
	phoneID := suffixFromRoutingKey(c.cfg.AMQPBinding, routingKey)
	ilog.Debugf("amqp message decoded phoneID=%s id=%s type=%q to=%q buttons=%v interactive=%v",
		phoneID, msg.MessageID, strings.TrimSpace(msg.Type), strings.TrimSpace(msg.To),
		msg.Buttons != nil, msg.Interactive != nil)
	return msg, phoneID, true
}

func (c *Consumer) dispatch(msg provider.OutgoingMessage, phone string, body []byte) {
	ctx := context.WithValue(context.Background(), provider.CtxKeyPhoneNumberID, phone)
	res, err := c.sender.Send(ctx, msg)
	if err == nil {
		ilog.Infof("amqp message relayed phoneID=%s id=%s type=%s button_type=%s", phone, res.MessageID, res.Type, res.ButtonType)
		return
	}

	entry := ilog.WithSession(phone).WithMessageID(msg.MessageID)
	var verr *interactive.ValidationError
	if errors.As(err, &verr) {
		entry.Error("rejected %s message to %q:\n%s", strings.TrimSpace(msg.Type), strings.TrimSpace(msg.To), verr.FormatDetailed())
		return
	}
	entry.Error("failed to send message type=%q to=%q: %v", strings.TrimSpace(msg.Type), strings.TrimSpace(msg.To), err)
	if strings.TrimSpace(msg.To) == "" {
		raw := string(body)
		if len(raw) > 1500 {
			raw = raw[:1500] + "...(truncated)"
		}
		entry.Debug("payload_raw: %s", raw)
	}
}
