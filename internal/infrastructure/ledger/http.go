package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/logging"
)

// HTTPClient posts transfers to {BaseURL}/transfers. The record's request id is
// sent as Idempotency-Key so a resumed run never pays twice.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type transferBody struct {
	RequestID string `json:"request_id"`
	AssetID   string `json:"asset_id"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type transferResponse struct {
	Success        bool   `json:"success"`
	TransactionRef string `json:"transaction_ref"`
	Message        string `json:"message"`
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Transfer implements domain.LedgerClient. Connection failures and 5xx map to
// ErrLedgerUnavailable; rejections and deadline expiry map to ErrTransferFailed.
func (c *HTTPClient) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	if c.BaseURL == "" {
		return domain.TransferResult{}, domain.Wrap(domain.ErrLedgerUnavailable, "ledger not configured")
	}
	payload, err := json.Marshal(transferBody{
		RequestID: req.RequestID.String(),
		AssetID:   req.AssetID,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		return domain.TransferResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/transfers", bytes.NewReader(payload))
	if err != nil {
		return domain.TransferResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RequestID.String())
	if id := logging.TraceID(ctx); id != "" {
		httpReq.Header.Set(logging.TraceHeader, id)
	}
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.TransferResult{}, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
		}
		return domain.TransferResult{}, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 500 {
		return domain.TransferResult{}, domain.Wrap(domain.ErrLedgerUnavailable, "ledger returned %d", resp.StatusCode)
	}
	var out transferResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode >= 300 || !out.Success {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return domain.TransferResult{}, domain.Wrap(domain.ErrTransferFailed, "ledger rejected transfer (%d): %s", resp.StatusCode, msg)
	}
	return domain.TransferResult{Success: true, TransactionRef: out.TransactionRef}, nil
}
