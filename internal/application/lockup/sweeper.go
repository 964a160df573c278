package lockup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper runs CheckUnlocks on a fixed interval until its context ends.
type Sweeper struct {
	Service  *Service
	Interval time.Duration
}

// Run blocks until ctx is done. A failed sweep is logged and retried on the next tick.
func (w *Sweeper) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	log.Info().Dur("interval", interval).Msg("Unlock sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Unlock sweeper stopped")
			return
		case <-t.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	entries, err := w.Service.CheckUnlocks(ctx, w.Service.clk().Now())
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Unlock sweep failed")
		}
		return
	}
	if len(entries) > 0 {
		log.Debug().Int("unlocked", len(entries)).Msg("Unlock sweep")
	}
}
