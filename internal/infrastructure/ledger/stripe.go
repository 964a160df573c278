package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fractions-backend/internal/domain"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/transfer"
)

// StripeClient pays fiat distributions as Stripe Connect transfers. Recipient
// addresses must be connected account ids (acct_...).
type StripeClient struct {
	SecretKey string
	// Backend overrides the Stripe API backend; nil uses the default.
	Backend stripe.Backend
}

func (s *StripeClient) client() *transfer.Client {
	b := s.Backend
	if b == nil {
		b = stripe.GetBackend(stripe.APIBackend)
	}
	return &transfer.Client{B: b, Key: s.SecretKey}
}

// Transfer implements domain.LedgerClient.
func (s *StripeClient) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	if s.SecretKey == "" {
		return domain.TransferResult{}, domain.Wrap(domain.ErrLedgerUnavailable, "stripe key not configured")
	}
	if !strings.HasPrefix(req.Recipient, "acct_") {
		return domain.TransferResult{}, domain.Wrap(domain.ErrTransferFailed, "recipient %s is not a connected account", req.Recipient)
	}
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Destination:   stripe.String(req.Recipient),
		TransferGroup: stripe.String("asset_" + req.AssetID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.RequestID.String())
	params.AddMetadata("request_id", req.RequestID.String())
	params.AddMetadata("asset_id", req.AssetID)

	tr, err := s.client().New(params)
	if err != nil {
		return domain.TransferResult{}, classifyStripe(ctx, err)
	}
	return domain.TransferResult{Success: true, TransactionRef: tr.ID}, nil
}

func classifyStripe(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == 0 {
			return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
		}
		return fmt.Errorf("%w: %s", domain.ErrTransferFailed, serr.Msg)
	}
	return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
}
