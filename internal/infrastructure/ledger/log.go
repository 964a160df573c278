package ledger

import (
	"context"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/logging"

	"github.com/rs/zerolog/log"
)

// Log acknowledges every transfer without moving funds. Local runs only.
type Log struct{}

func (Log) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	log.Info().
		Str("trace_id", logging.TraceID(ctx)).
		Str("request_id", req.RequestID.String()).
		Str("asset_id", req.AssetID).
		Str("recipient", req.Recipient).
		Int64("amount", req.Amount).
		Str("currency", req.Currency).
		Msg("Dry-run transfer")
	return domain.TransferResult{Success: true, TransactionRef: "dry-" + req.RequestID.String()}, nil
}
