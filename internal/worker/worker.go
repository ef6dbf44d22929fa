// Package worker runs out-of-band reconciliation: the stale payment sweeper,
// the provider event stream and the outbox relay.
package worker

import (
	"context"
	"log/slog"
	"time"

	"OrderSettlement/internal/events"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/provider"
)

type Settlement interface {
	Sweep(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
	HandleCallback(ctx context.Context, st provider.Status) (*models.Payment, error)
}

type Worker struct {
	Settlement    Settlement
	Relay         *events.Relay
	Logger        *slog.Logger
	SweepInterval time.Duration
	StaleAfter    time.Duration
	SweepBatch    int
	RelayInterval time.Duration
	WSEndpoint    string
	WSAPIKey      string
	// WSRetryDelay is the pause between stream reconnects.
	WSRetryDelay time.Duration
}

func (w *Worker) log() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run blocks until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	go w.RunWS(ctx)
	if w.Relay != nil {
		go w.Relay.Run(ctx, w.RelayInterval)
	}

	interval := w.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.log().Error("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) SweepOnce(ctx context.Context) error {
	n, err := w.Settlement.Sweep(ctx, w.StaleAfter, w.SweepBatch)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log().Info("sweep settled payments", "count", n)
	}
	return nil
}
