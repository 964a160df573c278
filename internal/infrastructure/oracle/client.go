package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/clock"
	"fractions-backend/internal/pkg/logging"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// HTTPClient reads valuations from GET {BaseURL}/assets/{id}/valuation.
// A valuation older than MaxAge is rejected as stale.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	MaxAge  time.Duration
	Client  *http.Client
	Clock   clock.Clock
	// MaxElapsed bounds retries of transient failures; 0 uses 10s.
	MaxElapsed time.Duration
}

type valuationBody struct {
	AssetID  string          `json:"asset_id"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"as_of"`
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *HTTPClient) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now()
	}
	return time.Now().UTC()
}

// GetLatestValue implements domain.ValuationOracle.
func (c *HTTPClient) GetLatestValue(ctx context.Context, assetID string) (domain.Valuation, error) {
	if c.BaseURL == "" {
		return domain.Valuation{}, domain.Wrap(domain.ErrValuationUnavailable, "oracle not configured")
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/assets/" + url.PathEscape(assetID) + "/valuation"

	var body valuationBody
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		req.Header.Set("Accept", "application/json")
		if id := logging.TraceID(ctx); id != "" {
			req.Header.Set(logging.TraceHeader, id)
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(domain.Wrap(domain.ErrValuationUnavailable, "no valuation for asset %s", assetID))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("oracle returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(domain.Wrap(domain.ErrValuationUnavailable, "oracle returned %d: %s", resp.StatusCode, string(b)))
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(domain.Wrap(domain.ErrValuationUnavailable, "decode valuation: %v", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = c.MaxElapsed
	if b.MaxElapsedTime == 0 {
		b.MaxElapsedTime = 10 * time.Second
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		log.Warn().Err(err).Str("asset_id", assetID).Msg("Valuation lookup failed")
		if domain.KindOf(err) == domain.KindExternal {
			return domain.Valuation{}, err
		}
		return domain.Valuation{}, fmt.Errorf("%w: %v", domain.ErrValuationUnavailable, err)
	}

	if body.AsOf.IsZero() {
		return domain.Valuation{}, domain.Wrap(domain.ErrValuationUnavailable, "valuation for %s has no as_of", assetID)
	}
	if c.MaxAge > 0 && c.now().Sub(body.AsOf) > c.MaxAge {
		return domain.Valuation{}, domain.Wrap(domain.ErrStaleValuation, "valuation for %s is from %s", assetID, body.AsOf.Format(time.RFC3339))
	}
	if body.AssetID == "" {
		body.AssetID = assetID
	}
	return domain.Valuation{
		AssetID:  body.AssetID,
		Value:    body.Value,
		Currency: body.Currency,
		AsOf:     body.AsOf,
	}, nil
}
