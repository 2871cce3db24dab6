package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulseer/internal/domain"
)

func TestClient_CreateChargeIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charge_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client-1", body["account_id"])
		assert.Equal(t, "25", body["amount"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","status":"requires_payment_method"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "sk_test")
	ref, err := c.CreateChargeIntent(context.Background(), "client-1", decimal.RequireFromString("25.00"))
	require.NoError(t, err)
	assert.Equal(t, "pi_123", ref)
}

func TestClient_CreatePayoutSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payouts", r.URL.Path)
		assert.Equal(t, "po_1", r.Header.Get("Idempotency-Key"))
		w.Write([]byte(`{"id":"tr_9","status":"pending"}`))
	}))
	defer srv.Close()

	ref, err := NewClient(srv.URL, "sk_test").CreatePayout(context.Background(), "reader-1", decimal.NewFromInt(30), "po_1")
	require.NoError(t, err)
	assert.Equal(t, "tr_9", ref)
}

func TestClient_Non2xxIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk_test").CreateChargeIntent(context.Background(), "client-1", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, domain.ErrGatewayError)
}

func TestClient_UnreachableIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "sk_test").CreatePayout(context.Background(), "reader-1", decimal.NewFromInt(5), "po_2")
	assert.ErrorIs(t, err, domain.ErrGatewayError)
}

func TestClient_BadBodyIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk_test").CreateChargeIntent(context.Background(), "client-1", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, domain.ErrGatewayError)
}
