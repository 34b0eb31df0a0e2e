package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
)

// fakeAcknowledger records the outcome dispatch chose for a delivery.
type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	rejected bool
	requeue  bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.rejected = true
	a.requeue = requeue
	return nil
}

func testDelivery(t *testing.T, body []byte) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: body, RoutingKey: "discovered.server"}, ack
}

func validBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(cloudevents.NewDiscovered("/collectors/network-scanner", "server", "scan-1", map[string]any{"ip": "10.0.0.5"}))
	require.NoError(t, err)
	return body
}

func TestDispatchAcksOnSuccess(t *testing.T) {
	var handled *cloudevents.Event
	c := NewConsumer("", nil, 0, func(ctx context.Context, event *cloudevents.Event) error {
		handled = event
		return nil
	}, zerolog.Nop())

	d, ack := testDelivery(t, validBody(t))
	c.dispatch(context.Background(), d)

	require.NotNil(t, handled)
	assert.Equal(t, "discovery.server.discovered", handled.Type)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	assert.False(t, ack.rejected)
}

func TestDispatchRejectsUnparseable(t *testing.T) {
	c := NewConsumer("", nil, 0, func(context.Context, *cloudevents.Event) error {
		t.Fatal("handler must not run for unparseable bodies")
		return nil
	}, zerolog.Nop())

	d, ack := testDelivery(t, []byte("{not json"))
	c.dispatch(context.Background(), d)

	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
}

func TestDispatchRejectsInvalidEnvelope(t *testing.T) {
	c := NewConsumer("", nil, 0, func(context.Context, *cloudevents.Event) error {
		t.Fatal("handler must not run for invalid envelopes")
		return nil
	}, zerolog.Nop())

	d, ack := testDelivery(t, []byte(`{"specversion":"1.0","id":"x","source":"/s"}`))
	c.dispatch(context.Background(), d)

	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
}

func TestDispatchRequeuesHandlerError(t *testing.T) {
	c := NewConsumer("", nil, 0, func(context.Context, *cloudevents.Event) error {
		return errors.New("downstream unavailable")
	}, zerolog.Nop())

	d, ack := testDelivery(t, validBody(t))
	c.dispatch(context.Background(), d)

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
	assert.False(t, ack.rejected)
}

// A handler error wrapping ErrUnprocessable must drop the message, not
// redeliver it: requeueing would loop it through the queue forever.
func TestDispatchRejectsUnprocessable(t *testing.T) {
	c := NewConsumer("", nil, 0, func(_ context.Context, event *cloudevents.Event) error {
		return fmt.Errorf("event %s has unrecognized type: %w", event.ID, ErrUnprocessable)
	}, zerolog.Nop())

	d, ack := testDelivery(t, validBody(t))
	c.dispatch(context.Background(), d)

	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
	assert.False(t, ack.nacked)
	assert.False(t, ack.acked)
}

func TestForwardRelaysUntilChannelCloses(t *testing.T) {
	msgs := make(chan amqp.Delivery, 2)
	merged := make(chan amqp.Delivery)
	done := make(chan struct{})
	defer close(done)

	msgs <- amqp.Delivery{DeliveryTag: 1}
	msgs <- amqp.Delivery{DeliveryTag: 2}
	close(msgs)

	returned := make(chan struct{})
	go func() {
		forward(msgs, merged, done)
		close(returned)
	}()

	assert.Equal(t, uint64(1), (<-merged).DeliveryTag)
	assert.Equal(t, uint64(2), (<-merged).DeliveryTag)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("forward did not return after its delivery channel closed")
	}
}

// With no consumer left on merged, closing done must release a forwarder
// holding an in-flight delivery.
func TestForwardStopsOnDone(t *testing.T) {
	msgs := make(chan amqp.Delivery, 1)
	merged := make(chan amqp.Delivery)
	done := make(chan struct{})

	msgs <- amqp.Delivery{DeliveryTag: 1}

	returned := make(chan struct{})
	go func() {
		forward(msgs, merged, done)
		close(returned)
	}()

	close(done)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("forward leaked after done was closed")
	}
}
