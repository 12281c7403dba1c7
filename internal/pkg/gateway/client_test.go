package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ChargeSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "topup:fan:r1", r.Header.Get("Idempotency-Key"))

		var req ChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(500), req.Amount)
		assert.Equal(t, "fan", req.AccountRef)
		assert.NotEmpty(t, req.Currency)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"external_tx_id":"ext-1","status":"succeeded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	res, err := c.Charge(context.Background(), ChargeRequest{AccountRef: "fan", Amount: 500, IdempotencyKey: "topup:fan:r1"})
	require.NoError(t, err)
	assert.Equal(t, "ext-1", res.ExternalTxID)
	assert.Equal(t, StatusSucceeded, res.Status)
}

func TestClient_ChargeErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "declined status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
			},
			want: ErrDeclined,
		},
		{
			name: "failed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"external_tx_id":"ext-2","status":"failed","failure_reason":"card expired"}`))
			},
			want: ErrDeclined,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: ErrUnavailable,
		},
		{
			name: "upstream timeout status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusGatewayTimeout)
			},
			want: ErrTimeout,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			want: ErrUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, "", time.Second).Charge(context.Background(), ChargeRequest{Amount: 1, IdempotencyKey: "k"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ChargeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "", 50*time.Millisecond)
	_, err := c.Charge(context.Background(), ChargeRequest{Amount: 1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewClient("", "", time.Second).Charge(context.Background(), ChargeRequest{Amount: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_Refund(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		assert.Equal(t, "refund:ext-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	require.NoError(t, c.Refund(context.Background(), "ext-1", 300))
	assert.Equal(t, "ext-1", got["external_tx_id"])
	assert.EqualValues(t, 300, got["amount"])

	assert.Error(t, c.Refund(context.Background(), "", 300))
}
