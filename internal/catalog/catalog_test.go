package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Products(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "p1,p2", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"products":[{"product_id":"p1","vendor_id":"v1","name":"Mug","price":1200,"available":true}]}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL+"/", time.Second).Products(context.Background(), []string{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Product{ProductID: "p1", VendorID: "v1", Name: "Mug", Price: 1200, Available: true}, got["p1"])
}

func TestClient_CommissionRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vendors/commission-rates", r.URL.Path)
		_, _ = w.Write([]byte(`{"vendors":[{"vendor_id":"v1","commission_rate":"0.125"}]}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, time.Second).CommissionRates(context.Background(), []string{"v1"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.125").Equal(got["v1"]))
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "catalog down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Products(context.Background(), []string{"p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "catalog down")
}
