package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/observability"
)

// ChangeHandler receives one decoded change event
type ChangeHandler func(ctx context.Context, event models.ChangeEvent) error

// Settlement is what the consumer tells the broker about a delivery
type Settlement string

const (
	SettleAck     Settlement = "ack"
	SettleRequeue Settlement = "requeue"
	SettleDrop    Settlement = "drop"
)

var errMalformedEvent = errors.New("malformed change event")

// Consumer reads change events from one queue with manual acknowledgement
type Consumer struct {
	conn           *Connection
	logger         *logger.Logger
	queueName      string
	consumerTag    string
	prefetch       int
	handleTimeout  time.Duration
	reconnectDelay time.Duration
}

// NewConsumer creates a consumer on queueName. Call Consume to start it.
func NewConsumer(conn *Connection, log *logger.Logger, queueName, consumerTag string, prefetch int) *Consumer {
	return &Consumer{
		conn:           conn,
		logger:         log,
		queueName:      queueName,
		consumerTag:    consumerTag,
		prefetch:       prefetch,
		handleTimeout:  30 * time.Second,
		reconnectDelay: 2 * time.Second,
	}
}

// Consume hands every event on the queue to handler until ctx is cancelled.
// When the broker closes the delivery channel the consumer reconnects and
// subscribes again.
func (c *Consumer) Consume(ctx context.Context, handler ChangeHandler) error {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			return err
		}

		if !c.drain(ctx, deliveries, handler) {
			c.logger.Info("consumer_stopped", "Consumer stopped by context", "", map[string]interface{}{
				"queue": c.queueName,
			})
			return nil
		}

		c.logger.Warn("consumer_channel_closed", "Delivery channel closed, reconnecting", "", map[string]interface{}{
			"queue":    c.queueName,
			"delay_ms": c.reconnectDelay.Milliseconds(),
		})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
		if err := c.conn.Reconnect(); err != nil {
			return fmt.Errorf("failed to reconnect consumer: %w", err)
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp091.Delivery, error) {
	if c.conn.IsClosed() {
		if err := c.conn.Reconnect(); err != nil {
			return nil, fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	ch := c.conn.Channel()
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(c.queueName, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("consumer_started", fmt.Sprintf("Consuming change events from %s", c.queueName), "", map[string]interface{}{
		"queue":    c.queueName,
		"consumer": c.consumerTag,
		"prefetch": c.prefetch,
	})
	return deliveries, nil
}

// drain settles deliveries until ctx is done (false) or the channel is
// closed (true)
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp091.Delivery, handler ChangeHandler) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			c.handle(ctx, d, handler)
		}
	}
}

// handle decodes one delivery, runs handler and settles the delivery
func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery, handler ChangeHandler) Settlement {
	start := time.Now()

	event, err := ParseChange(d.Body)
	if err == nil {
		handleCtx, cancel := context.WithTimeout(ctx, c.handleTimeout)
		err = handler(handleCtx, event)
		cancel()
	} else {
		err = fmt.Errorf("%w: %v", errMalformedEvent, err)
	}

	settlement := settle(err, d.Redelivered)
	fields := map[string]interface{}{
		"queue":        c.queueName,
		"routing_key":  d.RoutingKey,
		"delivery_tag": d.DeliveryTag,
		"redelivered":  d.Redelivered,
		"settlement":   string(settlement),
		"duration_ms":  time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.logger.Error("change_event_failed", "Failed to handle change event", "", err, fields)
	} else {
		fields["collection"] = string(event.Collection)
		fields["revision"] = event.Revision
		c.logger.Debug("change_event_handled", "Change event handled", "", fields)
	}

	var settleErr error
	switch settlement {
	case SettleAck:
		settleErr = d.Ack(false)
	case SettleRequeue:
		settleErr = d.Nack(false, true)
	default:
		settleErr = d.Nack(false, false)
	}
	if settleErr != nil {
		c.logger.Error("message_settle_failed", "Failed to settle delivery", "", settleErr, fields)
	}
	observability.RecordConsumed(c.queueName, string(settlement))
	return settlement
}

// settle picks the broker outcome for a handled delivery. A malformed event
// never parses, so it is dropped at once; a failed handler gets one
// redelivery before the event is dropped.
func settle(err error, redelivered bool) Settlement {
	switch {
	case err == nil:
		return SettleAck
	case errors.Is(err, errMalformedEvent), redelivered:
		return SettleDrop
	default:
		return SettleRequeue
	}
}

// ParseChange decodes a change event published by PublishChange
func ParseChange(body []byte) (models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	if !event.Collection.Valid() {
		return models.ChangeEvent{}, fmt.Errorf("change event has unknown collection %q", event.Collection)
	}
	return event, nil
}

// Close cancels the subscription and closes the connection
func (c *Consumer) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Channel().Cancel(c.consumerTag, false); err != nil {
		c.logger.Error("consumer_cancel_failed", "Failed to cancel consumer", "", err, nil)
	}
	return c.conn.Close()
}
