package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Initiate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(9000), body["amount"])
		assert.Equal(t, "0700000000", body["payer_phone"])
		_, _ = w.Write([]byte(`{"payment_id":"prov-1"}`))
	}))
	defer srv.Close()

	id, err := NewHTTPClient(srv.URL, "key", time.Second).Initiate(context.Background(), InitiateRequest{
		Reference: "pay-1",
		Amount:    9000,
		Reason:    "order o1",
		Payer:     Payer{Phone: "0700000000"},
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", id)
}

func TestHTTPClient_QueryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/prov-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"COMPLETED","transaction_id":"TX9","completed_at":"2026-03-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	st, err := NewHTTPClient(srv.URL, "", time.Second).QueryStatus(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, st.Status)
	assert.Equal(t, "prov-1", st.ProviderPaymentID)
	assert.Equal(t, "TX9", st.TransactionID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), st.CompletedAt)
}

func TestHTTPClient_UnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"maybe"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).QueryStatus(context.Background(), "prov-1")
	assert.ErrorIs(t, err, errs.ErrProvider)
}

func TestHTTPClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad phone", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).Initiate(context.Background(), InitiateRequest{Reference: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProvider)
	assert.False(t, IsTemporary(err))
	assert.Contains(t, err.Error(), "bad phone")
}

func TestMultiClient_FailsOverOnServerErrors(t *testing.T) {
	var downHits int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downHits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	}))
	defer up.Close()

	m, err := NewMultiClient([]string{down.URL, up.URL + "/", down.URL}, "", time.Second, 2)
	require.NoError(t, err)
	assert.Len(t, m.clients, 2)

	for i := 0; i < 3; i++ {
		st, err := m.QueryStatus(context.Background(), "prov-1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentProcessing, st.Status)
	}
	// After two failures the healthy endpoint becomes current.
	assert.Equal(t, int32(2), atomic.LoadInt32(&downHits))
	assert.Equal(t, up.URL, m.BaseURL())
}

func TestMultiClient_DoesNotFailOverRejectedRequests(t *testing.T) {
	var secondHits int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondHits, 1)
	}))
	defer second.Close()

	m, err := NewMultiClient([]string{first.URL, second.URL}, "", time.Second, 1)
	require.NoError(t, err)
	_, err = m.Initiate(context.Background(), InitiateRequest{Reference: "p"})
	assert.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&secondHits))
}

func TestNewMultiClient_NoEndpoints(t *testing.T) {
	_, err := NewMultiClient([]string{" ", ""}, "", time.Second, 3)
	assert.Error(t, err)
}

func TestSigner_Verify(t *testing.T) {
	s, err := NewSigner("topsecret")
	require.NoError(t, err)
	body := []byte(`{"payment_id":"prov-1","status":"completed"}`)
	sig := s.Sign(body)

	assert.NoError(t, s.Verify(body, sig))
	assert.ErrorIs(t, s.Verify([]byte(`{"payment_id":"prov-1","status":"failed"}`), sig), ErrBadSignature)
	assert.ErrorIs(t, s.Verify(body, "zz"), ErrBadSignature)

	long, err := NewSigner(strings.Repeat("k", 100))
	require.NoError(t, err)
	assert.NoError(t, long.Verify(body, long.Sign(body)))

	_, err = NewSigner("")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus([]byte(`{"payment_id":"prov-1","status":"failed","failure_reason":"insufficient funds"}`))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, st.Status)
	assert.Equal(t, "insufficient funds", st.FailureReason)

	_, err = ParseStatus([]byte(`{"status":"failed"}`))
	assert.Error(t, err)
}

func TestParseStreamMessage(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		ok   bool
		err  bool
	}{
		{"update", `{"type":"payment.status","data":{"payment_id":"prov-1","status":"completed","transaction_id":"TX"}}`, true, false},
		{"ack", `{"type":"subscribed"}`, false, false},
		{"error frame", `{"error":{"code":401,"message":"unauthorized"}}`, false, true},
		{"garbage", `not json`, false, true},
		{"missing id", `{"type":"payment.status","data":{"status":"completed"}}`, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, ok, err := ParseStreamMessage([]byte(tc.msg))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.err, err != nil)
			if ok {
				assert.Equal(t, "prov-1", st.ProviderPaymentID)
				assert.Equal(t, models.PaymentCompleted, st.Status)
			}
		})
	}
}

func TestStreamClient_SubscribeAndRead(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub map[string]string
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "payments", sub["channel"])
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"payment.status","data":{"payment_id":"prov-1","status":"completed"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"), "key")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Subscribe(ctx))

	msg, err := c.Read(ctx)
	require.NoError(t, err)
	st, ok, err := ParseStreamMessage(msg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "prov-1", st.ProviderPaymentID)
}

func TestStreamEndpoint(t *testing.T) {
	assert.Empty(t, StreamEndpoint("", "https://pay.example/v1"))
	assert.Equal(t, "wss://pay.example/v1/stream", StreamEndpoint(StreamAuto, "https://pay.example/v1"))
	assert.Equal(t, "wss://feed.example/x", StreamEndpoint("wss://feed.example/x", "https://pay.example/v1"))
}

func TestDefaultStreamEndpoint(t *testing.T) {
	assert.Equal(t, "wss://pay.example/v1/stream", DefaultStreamEndpoint("https://pay.example/v1/"))
	assert.Equal(t, "ws://localhost:9000/stream", DefaultStreamEndpoint("http://localhost:9000"))
	assert.Equal(t, "wss://pay.example/stream", DefaultStreamEndpoint("wss://pay.example/stream"))
	assert.Equal(t, "", DefaultStreamEndpoint("pay.example"))
}
