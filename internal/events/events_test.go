package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"OrderSettlement/internal/models"
	"OrderSettlement/internal/store/memory"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	ev := models.NewEvent(models.EventOrderConfirmed, "o1", map[string]any{"order_id": "o1", "amount": 9000})
	body, err := Encode(ev)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, ev.EventID, msg.EventID)
	assert.Equal(t, "order_confirmed", msg.Type)
	assert.Equal(t, "o1", msg.AggregateID)
	assert.JSONEq(t, `{"order_id":"o1","amount":9000}`, string(msg.Payload))
}

func TestKafkaPublisher_Publish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.Type != "order_created" {
			return errors.New("unexpected type " + msg.Type)
		}
		return nil
	})
	sp.ExpectSendMessageAndSucceed()

	p := NewKafkaPublisherFromProducer(sp, "order-events")
	err := p.Publish(context.Background(), []models.Event{
		models.NewEvent(models.EventOrderCreated, "o1", nil),
		models.NewEvent(models.EventOrderConfirmed, "o1", nil),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_MessageKey(t *testing.T) {
	p := &KafkaPublisher{topic: "t"}
	msgs, err := p.toKafkaMessages([]models.Event{models.NewEvent(models.EventPaymentFailed, "o9", nil)})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sarama.StringEncoder("o9"), msgs[0].Key)
	assert.Equal(t, "t", msgs[0].Topic)
	assert.Equal(t, []byte("payment_failed"), msgs[0].Headers[0].Value)
}

type fakeChannel struct {
	mu   sync.Mutex
	keys []string
	fail error
}

func (c *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.keys = append(c.keys, exchange+"/"+key+"/"+msg.MessageId)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPPublisher_RoutesByType(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{exchange: "order-events", ch: ch}
	ev := models.NewEvent(models.EventRewardRedeemed, "u1", nil)
	require.NoError(t, p.Publish(context.Background(), []models.Event{ev}))
	assert.Equal(t, []string{"order-events/reward_redeemed/" + ev.EventID}, ch.keys)
	require.NoError(t, p.Close())
}

type recordingPublisher struct {
	batches [][]models.Event
	fail    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs []models.Event) error {
	if p.fail != nil {
		return p.fail
	}
	p.batches = append(p.batches, evs)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// seedEvents writes one order_created outbox row per order.
func seedEvents(t *testing.T, st *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		o := &models.Order{OrderID: id, UserID: "u1", Status: models.OrderPending}
		ev := models.NewEvent(models.EventOrderCreated, id, map[string]any{"order_id": id})
		require.NoError(t, st.CreateOrder(context.Background(), o, nil, nil, []models.Event{ev}))
	}
}

func TestRelay_PublishesAndMarks(t *testing.T) {
	st := memory.New()
	seedEvents(t, st, 3)
	pub := &recordingPublisher{}
	r := Relay{Outbox: st, Publisher: pub, BatchSize: 2}

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.batches, 2)
}

func TestRelay_FailedPublishStaysPending(t *testing.T) {
	st := memory.New()
	seedEvents(t, st, 2)
	pub := &recordingPublisher{fail: errors.New("broker down")}
	r := Relay{Outbox: st, Publisher: pub}

	_, err := r.RelayOnce(context.Background())
	assert.Error(t, err)

	pending, err := st.FetchPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pub.fail = nil
	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
