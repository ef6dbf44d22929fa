package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/provider"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettlement struct {
	mu       sync.Mutex
	applied  []provider.Status
	sweeps   int
	notFound bool
	seen     chan struct{}
}

func (f *fakeSettlement) Sweep(context.Context, time.Duration, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 1, nil
}

func (f *fakeSettlement) HandleCallback(_ context.Context, st provider.Status) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound {
		return nil, errs.ErrNotFound
	}
	f.applied = append(f.applied, st)
	if f.seen != nil {
		select {
		case f.seen <- struct{}{}:
		default:
		}
	}
	return &models.Payment{PaymentID: "pay-1", Status: st.Status}, nil
}

func TestHandleStreamMessage(t *testing.T) {
	s := &fakeSettlement{}
	w := &Worker{Settlement: s}
	ctx := context.Background()

	w.HandleStreamMessage(ctx, []byte(`{"type":"payment.status","data":{"payment_id":"prov-1","status":"processing"}}`))
	w.HandleStreamMessage(ctx, []byte(`{"type":"heartbeat"}`))
	w.HandleStreamMessage(ctx, []byte(`garbage`))
	assert.Empty(t, s.applied)

	w.HandleStreamMessage(ctx, []byte(`{"type":"payment.status","data":{"payment_id":"prov-1","status":"completed","transaction_id":"TX"}}`))
	require.Len(t, s.applied, 1)
	assert.Equal(t, "prov-1", s.applied[0].ProviderPaymentID)
	assert.Equal(t, models.PaymentCompleted, s.applied[0].Status)

	s.notFound = true
	w.HandleStreamMessage(ctx, []byte(`{"type":"payment.status","data":{"payment_id":"other","status":"failed"}}`))
	assert.Len(t, s.applied, 1)
}

func TestSweepOnce(t *testing.T) {
	s := &fakeSettlement{}
	w := &Worker{Settlement: s, StaleAfter: time.Minute, SweepBatch: 10}
	require.NoError(t, w.SweepOnce(context.Background()))
	assert.Equal(t, 1, s.sweeps)
}

func TestRunWS_AppliesStreamedStatus(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"payment.status","data":{"payment_id":"prov-7","status":"cancelled"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	s := &fakeSettlement{seen: make(chan struct{}, 1)}
	w := &Worker{
		Settlement:   s,
		WSEndpoint:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		WSRetryDelay: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.RunWS(ctx)
		close(done)
	}()

	select {
	case <-s.seen:
	case <-time.After(5 * time.Second):
		t.Fatal("stream update was not applied")
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "prov-7", s.applied[0].ProviderPaymentID)
	assert.Equal(t, models.PaymentCancelled, s.applied[0].Status)
}

func TestRunWS_DisabledWithoutEndpoint(t *testing.T) {
	w := &Worker{Settlement: &fakeSettlement{}}
	w.RunWS(context.Background())
}
