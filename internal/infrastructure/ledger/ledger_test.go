package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/logging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestHTTPClient_TransferSendsIdempotencyKey(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfers", r.URL.Path)
		assert.Equal(t, id.String(), r.Header.Get("Idempotency-Key"))
		var body transferBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(4250), body.Amount)
		assert.Equal(t, "0xabc", body.Recipient)
		_, _ = w.Write([]byte(`{"success":true,"transaction_ref":"tx-1"}`))
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL}
	res, err := c.Transfer(context.Background(), domain.TransferRequest{RequestID: id, Recipient: "0xabc", Amount: 4250, Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "tx-1", res.TransactionRef)
}

func TestHTTPClient_ForwardsTraceID(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("X-Trace-Id"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true,"transaction_ref":"tx-1"}`))
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL}
	req := domain.TransferRequest{RequestID: uuid.New(), Recipient: "0xabc", Amount: 1, Currency: "USD"}
	ctx := logging.WithTraceID(context.Background(), "6f1c2b1e-8a0e-4d7f-9f44-1b3f2a9c0d11")
	_, err := c.Transfer(ctx, req)
	require.NoError(t, err)
	_, err = c.Transfer(context.Background(), req)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"6f1c2b1e-8a0e-4d7f-9f44-1b3f2a9c0d11", ""}, got)
}

func TestHTTPClient_Classification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rejected", http.StatusUnprocessableEntity, `{"success":false,"message":"frozen account"}`, domain.ErrTransferFailed},
		{"not success", http.StatusOK, `{"success":false}`, domain.ErrTransferFailed},
		{"server error", http.StatusServiceUnavailable, ``, domain.ErrLedgerUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			c := &HTTPClient{BaseURL: srv.URL}
			_, err := c.Transfer(context.Background(), domain.TransferRequest{RequestID: uuid.New(), Recipient: "r", Amount: 1})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHTTPClient_UnreachableAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Transfer(ctx, domain.TransferRequest{RequestID: uuid.New(), Recipient: "r", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	down := &HTTPClient{BaseURL: "http://127.0.0.1:1"}
	_, err = down.Transfer(context.Background(), domain.TransferRequest{RequestID: uuid.New(), Recipient: "r", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func stripeBackend(url string) stripe.Backend {
	return stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
}

func TestStripeClient_Transfer(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, id.String(), r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "acct_123", r.PostForm.Get("destination"))
		assert.Equal(t, "2550", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_1","object":"transfer","amount":2550,"currency":"usd"}`))
	}))
	defer srv.Close()

	c := &StripeClient{SecretKey: "sk_test_x", Backend: stripeBackend(srv.URL)}
	res, err := c.Transfer(context.Background(), domain.TransferRequest{RequestID: id, AssetID: "a", Recipient: "acct_123", Amount: 2550, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "tr_1", res.TransactionRef)
}

func TestStripeClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such destination"}}`))
	}))
	defer srv.Close()

	c := &StripeClient{SecretKey: "sk_test_x", Backend: stripeBackend(srv.URL)}
	_, err := c.Transfer(context.Background(), domain.TransferRequest{RequestID: uuid.New(), Recipient: "acct_9", Amount: 1, Currency: "usd"})
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	_, err = c.Transfer(context.Background(), domain.TransferRequest{RequestID: uuid.New(), Recipient: "0xwallet", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	noKey := &StripeClient{}
	_, err = noKey.Transfer(context.Background(), domain.TransferRequest{RequestID: uuid.New(), Recipient: "acct_9", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestLog_AcknowledgesWithStableRef(t *testing.T) {
	id := uuid.New()
	res, err := Log{}.Transfer(context.Background(), domain.TransferRequest{RequestID: id, Recipient: "r", Amount: 5})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "dry-"+id.String(), res.TransactionRef)
}
