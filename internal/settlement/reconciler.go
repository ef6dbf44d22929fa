// Package settlement drives a payment from initiation to a terminal status and
// reflects that status onto its order exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/provider"
	"OrderSettlement/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Store interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	MarkPaymentProcessing(ctx context.Context, paymentID, providerPaymentID string) (bool, error)
	TouchPayment(ctx context.Context, paymentID string) error
	FailPayment(ctx context.Context, paymentID string, status models.PaymentStatus, reason string, events []models.Event) (bool, error)
	SettlePayment(ctx context.Context, st store.Settlement) (*store.SettlementResult, error)
}

type Cart interface {
	Clear(ctx context.Context, userID string) error
}

type CommissionDeriver interface {
	Derive(ctx context.Context, items []models.OrderItem) ([]models.Commission, error)
}

type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	MaxRetries   int
	RetryInitial time.Duration
	QueryRate    float64
	QueryBurst   int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.QueryBurst <= 0 {
		c.QueryBurst = 1
	}
}

// Reconciler owns one cancellable poll task per in-flight payment. Tasks run on
// the reconciler's own context, so a caller that stops waiting does not stop
// server-side reconciliation.
type Reconciler struct {
	store       Store
	gateway     provider.Gateway
	cart        Cart
	commissions CommissionDeriver
	log         *slog.Logger
	cfg         Config
	limiter     *rate.Limiter

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	done chan struct{}
	err  error
}

func New(st Store, gateway provider.Gateway, cart Cart, commissions CommissionDeriver, logger *slog.Logger, cfg Config) *Reconciler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.QueryRate > 0 {
		limit = rate.Limit(cfg.QueryRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:       st,
		gateway:     gateway,
		cart:        cart,
		commissions: commissions,
		log:         logger.With("component", "settlement"),
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, cfg.QueryBurst),
		baseCtx:     ctx,
		stop:        cancel,
		tasks:       make(map[string]*task),
	}
}

// Close stops every poll task and waits for them to return.
func (r *Reconciler) Close() {
	r.stop()
	r.wg.Wait()
}

// Initiate opens a payment for a pending order and starts watching it. Provider
// outages are retried with backoff. When retries run out the payment stays
// pending for the sweeper and the caller gets errs.ErrPaymentTimeout.
func (r *Reconciler) Initiate(ctx context.Context, order *models.Order, payer provider.Payer) (*models.Payment, error) {
	if order.Status != models.OrderPending {
		return nil, errs.InvalidTransition(string(order.Status), "payment")
	}
	now := time.Now().UTC()
	payment := &models.Payment{
		PaymentID:     uuid.NewString(),
		OrderID:       order.OrderID,
		UserID:        order.UserID,
		Amount:        order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		PhoneNumber:   payer.Phone,
		Status:        models.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, fmt.Errorf("%w: order %s already has an active payment", errs.ErrConflict, order.OrderID)
		}
		return nil, err
	}

	req := provider.InitiateRequest{
		Reference: payment.PaymentID,
		Amount:    payment.Amount,
		Reason:    "order " + order.OrderID,
		Method:    payment.PaymentMethod,
		Payer:     payer,
	}
	providerID, err := r.initiateWithRetry(ctx, req)
	if err != nil {
		if provider.IsTemporary(err) {
			r.log.Warn("provider initiate exhausted retries", "payment_id", payment.PaymentID, "order_id", order.OrderID, "err", err)
			return payment, fmt.Errorf("%w: %v", errs.ErrPaymentTimeout, err)
		}
		ev := failedEvent(payment, models.PaymentFailed, err.Error())
		if _, ferr := r.store.FailPayment(ctx, payment.PaymentID, models.PaymentFailed, err.Error(), []models.Event{ev}); ferr != nil {
			r.log.Error("mark rejected payment failed", "payment_id", payment.PaymentID, "err", ferr)
		}
		r.log.Warn("provider rejected payment", "payment_id", payment.PaymentID, "order_id", order.OrderID, "err", err)
		return nil, fmt.Errorf("%w: %v", errs.ErrProvider, err)
	}

	if err := r.markProcessing(ctx, payment, providerID); err != nil {
		return nil, err
	}
	r.watch(payment.PaymentID, providerID)
	return payment, nil
}

func (r *Reconciler) initiateWithRetry(ctx context.Context, req provider.InitiateRequest) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.RetryInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxRetries)), ctx)

	var providerID string
	op := func() error {
		id, err := r.gateway.Initiate(ctx, req)
		if err != nil {
			if !provider.IsTemporary(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		providerID = id
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn("provider initiate failed, retrying", "payment_id", req.Reference, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return providerID, nil
}

func (r *Reconciler) markProcessing(ctx context.Context, p *models.Payment, providerID string) error {
	moved, err := r.store.MarkPaymentProcessing(ctx, p.PaymentID, providerID)
	if err != nil {
		return err
	}
	if moved {
		p.Status = models.PaymentProcessing
		p.ProviderPaymentID = &providerID
		r.log.Info("payment processing", "payment_id", p.PaymentID, "order_id", p.OrderID, "provider_payment_id", providerID)
	}
	return nil
}

// watch starts the poll task for a payment unless one is already running.
func (r *Reconciler) watch(paymentID, providerID string) *task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[paymentID]; ok {
		return t
	}
	t := &task{done: make(chan struct{})}
	r.tasks[paymentID] = t

	ctx, cancel := context.WithTimeout(r.baseCtx, r.cfg.Timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		t.err = r.poll(ctx, paymentID, providerID)
		r.mu.Lock()
		delete(r.tasks, paymentID)
		r.mu.Unlock()
		close(t.done)
	}()
	return t
}

func (r *Reconciler) poll(ctx context.Context, paymentID, providerID string) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				r.log.Info("payment poll timed out", "payment_id", paymentID)
				return errs.ErrPaymentTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}

		if err := r.limiter.Wait(ctx); err != nil {
			continue
		}
		st, err := r.gateway.QueryStatus(ctx, providerID)
		if err != nil {
			r.log.Warn("provider status query failed", "payment_id", paymentID, "err", err)
			continue
		}
		if !st.Status.IsTerminal() {
			continue
		}
		if _, err := r.ApplyStatus(ctx, paymentID, st); err != nil {
			r.log.Error("apply payment status", "payment_id", paymentID, "status", st.Status, "err", err)
			continue
		}
		return nil
	}
}

// Await blocks until the payment is terminal or ctx ends. On ctx end it
// returns the latest payment together with errs.ErrPaymentTimeout; the server
// side task keeps running.
func (r *Reconciler) Await(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return p, nil
	}
	if p.ProviderPaymentID == nil {
		return p, errs.ErrPaymentTimeout
	}
	t := r.watch(p.PaymentID, *p.ProviderPaymentID)

	select {
	case <-t.done:
	case <-ctx.Done():
	}
	latest, err := r.store.GetPayment(context.WithoutCancel(ctx), paymentID)
	if err != nil {
		return nil, err
	}
	if !latest.Status.IsTerminal() {
		return latest, errs.ErrPaymentTimeout
	}
	return latest, nil
}

// Watching reports whether a poll task is running for the payment.
func (r *Reconciler) Watching(paymentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[paymentID]
	return ok
}

// HandleCallback applies a status pushed by the provider, either through the
// signed callback or the event stream.
func (r *Reconciler) HandleCallback(ctx context.Context, st provider.Status) (*models.Payment, error) {
	p, err := r.store.GetPaymentByProviderID(ctx, st.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	if !st.Status.IsTerminal() {
		return p, nil
	}
	return r.ApplyStatus(ctx, p.PaymentID, st)
}

// ApplyStatus is the terminal-state handler. It may run any number of times
// for the same payment, from polls, callbacks and the sweeper alike; only the
// first completed application confirms the order and clears the cart.
func (r *Reconciler) ApplyStatus(ctx context.Context, paymentID string, st provider.Status) (*models.Payment, error) {
	switch st.Status {
	case models.PaymentCompleted:
		return r.settle(ctx, paymentID, st)
	case models.PaymentFailed, models.PaymentCancelled:
		p, err := r.store.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		reason := st.FailureReason
		if reason == "" {
			reason = string(st.Status)
		}
		moved, err := r.store.FailPayment(ctx, paymentID, st.Status, reason, []models.Event{failedEvent(p, st.Status, reason)})
		if err != nil {
			return nil, err
		}
		if moved {
			r.log.Info("payment failed", "payment_id", paymentID, "order_id", p.OrderID, "status", st.Status, "reason", reason)
		}
		return r.store.GetPayment(ctx, paymentID)
	default:
		return r.store.GetPayment(ctx, paymentID)
	}
}

func (r *Reconciler) settle(ctx context.Context, paymentID string, st provider.Status) (*models.Payment, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return p, nil
	}

	items, err := r.store.GetOrderItems(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	commissions, err := r.commissions.Derive(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("derive commissions: %w", err)
	}

	completedAt := st.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	txID := st.TransactionID
	if txID == "" && p.ProviderPaymentID != nil {
		txID = *p.ProviderPaymentID
	}
	ev := models.NewEvent(models.EventOrderConfirmed, p.OrderID, map[string]any{
		"order_id":       p.OrderID,
		"payment_id":     p.PaymentID,
		"transaction_id": txID,
		"amount":         p.Amount,
	})

	res, err := r.store.SettlePayment(ctx, store.Settlement{
		PaymentID:     paymentID,
		TransactionID: txID,
		CompletedAt:   completedAt,
		Commissions:   commissions,
		Events:        []models.Event{ev},
	})
	if err != nil {
		return nil, err
	}

	switch {
	case res.Settled:
		r.log.Info("order confirmed", "order_id", res.Order.OrderID, "payment_id", paymentID, "transaction_id", txID)
		// The order is durably confirmed at this point; a failed clear only leaves stale items behind.
		if err := r.cart.Clear(ctx, res.Order.UserID); err != nil {
			r.log.Error("cart clear failed", "user_id", res.Order.UserID, "order_id", res.Order.OrderID, "err", err)
		}
	case res.Conflict:
		r.log.Error("payment completed for an order that is no longer pending",
			"order_id", res.Order.OrderID, "order_status", res.Order.Status, "payment_id", paymentID, "transaction_id", txID)
	}
	return res.Payment, nil
}

// Sweep re-examines payments that have not moved since before now-staleAfter
// and are not watched by this process. It returns how many reached a terminal
// status.
func (r *Reconciler) Sweep(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	stale, err := r.store.ListStalePayments(ctx, time.Now().UTC().Add(-staleAfter), limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range stale {
		p := &stale[i]
		if r.Watching(p.PaymentID) {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return settled, err
		}
		terminal, err := r.sweepOne(ctx, p)
		if err != nil {
			r.log.Warn("sweep payment failed", "payment_id", p.PaymentID, "err", err)
			continue
		}
		if terminal {
			settled++
		}
	}
	return settled, nil
}

func (r *Reconciler) sweepOne(ctx context.Context, p *models.Payment) (bool, error) {
	if p.ProviderPaymentID == nil {
		return false, r.resumeInitiate(ctx, p)
	}
	st, err := r.gateway.QueryStatus(ctx, *p.ProviderPaymentID)
	if err != nil {
		_ = r.store.TouchPayment(ctx, p.PaymentID)
		return false, err
	}
	if !st.Status.IsTerminal() {
		return false, r.store.TouchPayment(ctx, p.PaymentID)
	}
	if _, err := r.ApplyStatus(ctx, p.PaymentID, st); err != nil {
		return false, err
	}
	return true, nil
}

// resumeInitiate repeats a lost initiate call. The payment id is the
// idempotency key, so a request the provider already accepted yields the same
// provider payment id.
func (r *Reconciler) resumeInitiate(ctx context.Context, p *models.Payment) error {
	order, err := r.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderPending {
		reason := "order no longer pending"
		_, err := r.store.FailPayment(ctx, p.PaymentID, models.PaymentCancelled, reason, []models.Event{failedEvent(p, models.PaymentCancelled, reason)})
		return err
	}
	providerID, err := r.gateway.Initiate(ctx, provider.InitiateRequest{
		Reference: p.PaymentID,
		Amount:    p.Amount,
		Reason:    "order " + p.OrderID,
		Method:    p.PaymentMethod,
		Payer:     provider.Payer{Phone: p.PhoneNumber},
	})
	if err != nil {
		if !provider.IsTemporary(err) {
			_, ferr := r.store.FailPayment(ctx, p.PaymentID, models.PaymentFailed, err.Error(), []models.Event{failedEvent(p, models.PaymentFailed, err.Error())})
			return ferr
		}
		_ = r.store.TouchPayment(ctx, p.PaymentID)
		return err
	}
	return r.markProcessing(ctx, p, providerID)
}

func failedEvent(p *models.Payment, status models.PaymentStatus, reason string) models.Event {
	return models.NewEvent(models.EventPaymentFailed, p.OrderID, map[string]any{
		"order_id":   p.OrderID,
		"payment_id": p.PaymentID,
		"status":     status,
		"reason":     reason,
	})
}
