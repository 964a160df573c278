package notify

import (
	"context"
	"sync"

	"fractions-backend/internal/domain"

	"github.com/rs/zerolog/log"
)

// Log writes notifications to the structured log. Used when NATS is not configured.
type Log struct{}

func (Log) Notify(_ context.Context, n domain.Notification) error {
	log.Info().
		Str("type", string(n.Type)).
		Str("asset_id", n.AssetID).
		Str("run_id", n.RunID).
		Str("recipient", n.Recipient).
		Int64("amount", n.Amount).
		Str("status", n.Status).
		Msg("Notification")
	return nil
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *Recorder) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of recorded notifications.
func (r *Recorder) Sent() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}
