package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/internal/domain"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPClientConfig{
		BaseURL: srv.URL,
		APIKey:  "key",
		Secret:  "secret",
		Timeout: 2 * time.Second,
	}, logger.NewNop())
}

func payout() *PayoutRequest {
	return &PayoutRequest{
		AppTransactionRef: "W-1",
		Amount:            decimal.NewFromInt(100),
		Currency:          "KES",
		Operator:          domain.OperatorMpesa,
		Recipient:         Recipient{Name: "Jane", Phone: "+254700000001"},
		Reason:            "payout",
	}
}

func TestHTTPClient_SubmitAccepted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payouts", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))

		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get("X-Timestamp")
		assert.NoError(t, NewSigner("secret").Verify(append(body, []byte("."+ts)...), r.Header.Get("X-Signature")))

		var req PayoutRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "W-1", req.AppTransactionRef)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"accepted","provider_transaction_ref":"P-9"}`))
	})

	res, err := client.Submit(context.Background(), payout())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "P-9", res.ProviderTransactionRef)
}

func TestHTTPClient_SubmitRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":"rejected","reason":"invalid msisdn"}`))
	})

	res, err := client.Submit(context.Background(), payout())
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "invalid msisdn", res.Reason)
}

func TestHTTPClient_SubmitDuplicateIsAccepted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"provider_transaction_ref":"P-1"}`))
	})

	res, err := client.Submit(context.Background(), payout())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestHTTPClient_TransientStatusIsTimeout(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"bad gateway", http.StatusBadGateway},
		{"request timeout", http.StatusRequestTimeout},
		{"too many requests", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"status":"rejected","reason":"slow down"}`))
			})

			res, err := client.Submit(context.Background(), payout())
			assert.Nil(t, res)
			assert.ErrorIs(t, err, errors.ErrGatewayTimeout)
		})
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, logger.NewNop())

	_, err := client.Submit(context.Background(), payout())
	assert.ErrorIs(t, err, errors.ErrGatewayTimeout)
}

func TestHTTPClient_QueryStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payouts/W-1":
			_, _ = w.Write([]byte(`{"status":"SUCCESS","provider_transaction_ref":"P-1","amount":"100.00","currency":"KES"}`))
		case "/v1/payouts/W-2":
			_, _ = w.Write([]byte(`{"status":"processing"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	res, err := client.QueryStatus(context.Background(), "W-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "P-1", res.ProviderTransactionRef)
	require.NotNil(t, res.Amount)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(100)))

	res, err = client.QueryStatus(context.Background(), "W-2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)

	res, err = client.QueryStatus(context.Background(), "W-3")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
}
