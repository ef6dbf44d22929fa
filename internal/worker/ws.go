package worker

import (
	"context"
	"errors"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/provider"
)

// RunWS follows the provider's payment status feed and applies every terminal
// update. It reconnects until ctx ends.
func (w *Worker) RunWS(ctx context.Context) {
	if w.WSEndpoint == "" {
		w.log().Info("provider stream disabled: ws_endpoint is empty")
		return
	}
	delay := w.WSRetryDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		client := provider.NewStreamClient(w.WSEndpoint, w.WSAPIKey)
		if err := client.Connect(ctx); err != nil {
			w.log().Warn("provider stream connect failed", "err", err)
			sleep(ctx, delay)
			continue
		}
		w.log().Info("provider stream connected", "endpoint", w.WSEndpoint)

		if err := client.Subscribe(ctx); err != nil {
			w.log().Warn("provider stream subscribe failed", "err", err)
			client.Close()
			sleep(ctx, delay)
			continue
		}

		w.consume(ctx, client)
		client.Close()
		sleep(ctx, delay)
	}
}

func (w *Worker) consume(ctx context.Context, client *provider.StreamClient) {
	for {
		msg, err := client.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log().Warn("provider stream read failed", "err", err)
			}
			return
		}
		w.HandleStreamMessage(ctx, msg)
	}
}

// HandleStreamMessage applies one feed frame. Updates for payments this
// service does not know are ignored.
func (w *Worker) HandleStreamMessage(ctx context.Context, msg []byte) {
	st, ok, err := provider.ParseStreamMessage(msg)
	if err != nil {
		w.log().Warn("provider stream parse failed", "err", err)
		return
	}
	if !ok || !st.Status.IsTerminal() {
		return
	}
	p, err := w.Settlement.HandleCallback(ctx, st)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return
		}
		w.log().Error("provider stream apply failed", "provider_payment_id", st.ProviderPaymentID, "err", err)
		return
	}
	w.log().Info("provider stream applied", "payment_id", p.PaymentID, "status", p.Status)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
