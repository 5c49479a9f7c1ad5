package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	key string
	msg amqp.Publishing
	err error
}

func (c *capturePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.key = key
	c.msg = msg
	return c.err
}

// ackRecorder implements amqp.Acknowledger.
type ackRecorder struct {
	acked    []uint64
	nacked   []uint64
	rejected []uint64
	requeue  bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacked = append(a.nacked, tag)
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	a.rejected = append(a.rejected, tag)
	a.requeue = requeue
	return nil
}

func testEntry() *models.AuditEntry {
	return &models.AuditEntry{
		ID:         "a1",
		Actor:      "staff-1",
		Action:     models.ActionCredit,
		TargetType: models.TargetAccount,
		TargetID:   "100000000",
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordPublishesPersistentJSON(t *testing.T) {
	pub := &capturePublisher{}
	r := &RabbitMQ{pub: pub}

	require.NoError(t, r.Record(context.Background(), testEntry()))

	assert.Equal(t, AuditQueue, pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), pub.msg.DeliveryMode)
	assert.Equal(t, "a1", pub.msg.MessageId)

	var got models.AuditEntry
	require.NoError(t, json.Unmarshal(pub.msg.Body, &got))
	assert.Equal(t, *testEntry(), got)
}

func TestRecordFailures(t *testing.T) {
	r := &RabbitMQ{pub: &capturePublisher{err: errors.New("channel closed")}}
	assert.Error(t, r.Record(context.Background(), testEntry()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Record(ctx, testEntry()), context.Canceled)
}

func TestDeliveries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good, err := json.Marshal(testEntry())
	require.NoError(t, err)

	acks := &ackRecorder{}
	msgs := make(chan amqp.Delivery, 3)
	msgs <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, Body: []byte("not json")}
	msgs <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 2, Body: []byte(`{"id":"x"}`)}
	msgs <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 3, Body: good}
	close(msgs)

	out := deliveries(ctx, msgs)

	d, ok := <-out
	require.True(t, ok)
	assert.Equal(t, "staff-1", d.Entry.Actor)
	require.NoError(t, d.Ack())

	_, ok = <-out
	assert.False(t, ok)

	assert.Equal(t, []uint64{1, 2}, acks.rejected)
	assert.Equal(t, []uint64{3}, acks.acked)
	assert.False(t, acks.requeue)
}
