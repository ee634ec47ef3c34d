package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowflow/internal/bus"
	"escrowflow/internal/consumer"
	"escrowflow/internal/dedup"
	"escrowflow/internal/models"
)

const (
	eventsTopic = "escrow.events.v1"
	alertsTopic = "escrow.alerts.v1"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	alerts []string
}

func (r *recorder) BroadcastEvent(ev *models.NormalizedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.EventID)
}

func (r *recorder) BroadcastAlert(a *models.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a.AlertID)
}

func newNotifier(d dedup.Deduper, r *recorder) *Notifier {
	return New(Config{EventsTopic: eventsTopic, AlertsTopic: alertsTopic}, d, r, nil)
}

func eventMessage(t *testing.T, id string, commitment models.Commitment) *bus.Message {
	data, err := models.EncodeEvent(&models.NormalizedEvent{
		EventID: id, EventType: models.EventOfferCreated, OfferID: "42", Maker: "M",
		AmountA: "1", AmountB: "2", Commitment: commitment,
	})
	require.NoError(t, err)
	return &bus.Message{Topic: eventsTopic, Value: data}
}

func alertMessage(t *testing.T, id string) *bus.Message {
	data, err := models.EncodeAlert(&models.AlertEvent{
		AlertID: id, RuleID: "self_fill", Severity: models.SeverityMedium, Maker: "M",
		OfferID: models.StringPtr("42"), Details: []byte(`{}`),
	})
	require.NoError(t, err)
	return &bus.Message{Topic: alertsTopic, Value: data}
}

func TestNotifier_NotifiesOncePerID(t *testing.T) {
	rec := &recorder{}
	n := newNotifier(dedup.NewMemoryDeduper(100), rec)
	ctx := context.Background()

	msgs := []*bus.Message{
		eventMessage(t, "s:0:1", models.CommitmentConfirmed),
		eventMessage(t, "s:0:1", models.CommitmentFinalized),
		alertMessage(t, "self_fill:s:0:1"),
		eventMessage(t, "s:0:2", models.CommitmentFinalized),
		alertMessage(t, "self_fill:s:0:1"),
	}
	for _, m := range msgs {
		require.NoError(t, n.Handle(ctx, m))
	}

	assert.Equal(t, []string{"s:0:1", "s:0:2"}, rec.events)
	assert.Equal(t, []string{"self_fill:s:0:1"}, rec.alerts)
}

func TestNotifier_SharedStoreAcrossInstances(t *testing.T) {
	// два экземпляра после ребаланса видят одно хранилище ключей
	d := dedup.NewMemoryDeduper(100)
	a, b := &recorder{}, &recorder{}

	require.NoError(t, newNotifier(d, a).Handle(context.Background(), eventMessage(t, "s:0:1", models.CommitmentFinalized)))
	require.NoError(t, newNotifier(d, b).Handle(context.Background(), eventMessage(t, "s:0:1", models.CommitmentFinalized)))

	assert.Len(t, a.events, 1)
	assert.Empty(t, b.events)
}

func TestNotifier_Malformed(t *testing.T) {
	n := newNotifier(dedup.NewMemoryDeduper(10), &recorder{})

	tests := []*bus.Message{
		{Topic: eventsTopic, Value: []byte(`not json`)},
		{Topic: alertsTopic, Value: []byte(`{"alert_id":""}`)},
		{Topic: "other.topic", Value: []byte(`{}`)},
	}
	for _, m := range tests {
		assert.ErrorIs(t, n.Handle(context.Background(), m), consumer.ErrMalformed, m.Topic)
	}
}

func TestNotifier_StoreErrorIsRetryable(t *testing.T) {
	rec := &recorder{}
	n := newNotifier(brokenDeduper{}, rec)

	err := n.Handle(context.Background(), eventMessage(t, "s:0:1", models.CommitmentFinalized))
	require.Error(t, err)
	assert.NotErrorIs(t, err, consumer.ErrMalformed)
	assert.Empty(t, rec.events, "без ключа побочный эффект не выполняется")
}

func TestNotifier_NilBroadcaster(t *testing.T) {
	n := New(Config{EventsTopic: eventsTopic, AlertsTopic: alertsTopic}, dedup.NewMemoryDeduper(10), nil, nil)
	assert.NoError(t, n.Handle(context.Background(), alertMessage(t, "a:s:0:1")))
}

type brokenDeduper struct{}

func (brokenDeduper) Claim(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}
func (brokenDeduper) Seen(context.Context, string) (bool, error) { return false, nil }
func (brokenDeduper) Mark(context.Context, string) error         { return nil }
