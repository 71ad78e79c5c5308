package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdine/internal/logger"
	"smartdine/internal/models"
)

// recordingAcker remembers how the consumer settled a delivery
type recordingAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (r *recordingAcker) Ack(uint64, bool) error {
	r.acked = true
	return nil
}

func (r *recordingAcker) Nack(_ uint64, _ bool, requeue bool) error {
	r.nacked = true
	r.requeue = requeue
	return nil
}

func (r *recordingAcker) Reject(_ uint64, requeue bool) error {
	return r.Nack(0, false, requeue)
}

func TestHandleSettlesDeliveries(t *testing.T) {
	valid, err := json.Marshal(models.ChangeEvent{Collection: models.CollectionBills, Revision: 3, Timestamp: time.Now()})
	require.NoError(t, err)
	failing := errors.New("printer offline")

	tests := []struct {
		name        string
		body        []byte
		redelivered bool
		handlerErr  error
		want        Settlement
	}{
		{name: "handled", body: valid, want: SettleAck},
		{name: "malformed json", body: []byte("{"), want: SettleDrop},
		{name: "unknown collection", body: []byte(`{"collection":"menu"}`), want: SettleDrop},
		{name: "handler fails first time", body: valid, handlerErr: failing, want: SettleRequeue},
		{name: "handler fails on redelivery", body: valid, redelivered: true, handlerErr: failing, want: SettleDrop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Consumer{logger: logger.Nop(), queueName: NotificationsQueue, handleTimeout: time.Second}
			acker := &recordingAcker{}
			d := amqp091.Delivery{Acknowledger: acker, DeliveryTag: 7, Body: tt.body, Redelivered: tt.redelivered}

			var seen []models.ChangeEvent
			got := c.handle(context.Background(), d, func(_ context.Context, event models.ChangeEvent) error {
				seen = append(seen, event)
				return tt.handlerErr
			})

			assert.Equal(t, tt.want, got)
			switch tt.want {
			case SettleAck:
				assert.True(t, acker.acked)
				require.Len(t, seen, 1)
				assert.Equal(t, int64(3), seen[0].Revision)
			case SettleRequeue:
				assert.True(t, acker.nacked)
				assert.True(t, acker.requeue)
			case SettleDrop:
				assert.True(t, acker.nacked)
				assert.False(t, acker.requeue)
			}
		})
	}
}

func TestDrainStopsOnContextOrClosedChannel(t *testing.T) {
	c := &Consumer{logger: logger.Nop(), queueName: NotificationsQueue, handleTimeout: time.Second}
	handler := func(context.Context, models.ChangeEvent) error { return nil }

	deliveries := make(chan amqp091.Delivery)
	close(deliveries)
	assert.True(t, c.drain(context.Background(), deliveries, handler), "closed channel asks for a reconnect")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.drain(ctx, make(chan amqp091.Delivery), handler))
}
