package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/events"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	payload []byte
	opts    int
}

type fakeStream struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeStream) Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, payload: payload, opts: len(opts)})
	return &jetstream.PubAck{Stream: "PAYMENTS", Sequence: uint64(len(f.msgs))}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_Publish(t *testing.T) {
	stream := &fakeStream{}
	pub := events.NewPublisher(stream, discardLogger())

	event, err := domain.NewEvent(domain.EventOrderPaid, "acme", "order", "o-1",
		domain.OrderPaidData{OrderID: "o-1", TotalAmount: "5000.00", TotalPaid: "5000.00"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, stream.msgs, 1)
	msg := stream.msgs[0]
	assert.Equal(t, "events.order.paid", msg.subject)
	assert.Equal(t, 1, msg.opts, "message id option must be set for deduplication")

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "acme", decoded.TenantID)
	assert.JSONEq(t, string(event.Data), string(decoded.Data))
}

func TestPublisher_PublishError(t *testing.T) {
	stream := &fakeStream{err: errors.New("no responders")}
	pub := events.NewPublisher(stream, discardLogger())

	event, err := domain.NewEvent(domain.EventPaymentCompleted, "acme", "payment", "p-1", map[string]string{}, time.Now())
	require.NoError(t, err)

	err = pub.Publish(context.Background(), event)
	assert.ErrorContains(t, err, "publishing event")
}

func TestNATSNotifier_Send(t *testing.T) {
	stream := &fakeStream{}
	notifier := events.NewNATSNotifier(stream, discardLogger())
	ctx := tenant.WithTenant(context.Background(), "acme")
	customer := "cust-9"

	err := notifier.Send(ctx, ports.Recipient{CustomerID: &customer, Phone: "254712345678"}, "Payment received")
	require.NoError(t, err)

	require.Len(t, stream.msgs, 1)
	assert.Equal(t, events.NotificationSubject, stream.msgs[0].subject)

	var body map[string]any
	require.NoError(t, json.Unmarshal(stream.msgs[0].payload, &body))
	assert.Equal(t, "acme", body["tenant_id"])
	assert.Equal(t, "254712345678", body["phone"])
	assert.Equal(t, "Payment received", body["message"])
	assert.Equal(t, "cust-9", body["customer_id"])
}

func TestNATSNotifier_RequiresPhone(t *testing.T) {
	stream := &fakeStream{}
	notifier := events.NewNATSNotifier(stream, discardLogger())

	err := notifier.Send(context.Background(), ports.Recipient{}, "hello")

	assert.Error(t, err)
	assert.Empty(t, stream.msgs)
}
