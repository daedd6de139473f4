// Package executor submits risk decisions to the exchange with bounded
// retries. Ambiguous failures are resolved through an order-status lookup on
// the client order id, never by blind resubmission.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Config holds order submission parameters.
type Config struct {
	OrderType   domain.OrderType
	MaxAttempts int
	MaxElapsed  time.Duration
	Backoff     Backoff
}

// Engine turns accepted risk decisions into reconciled fills.
type Engine struct {
	exchange domain.Exchange
	cfg      Config
	logger   *slog.Logger
	newID    func() string
	onRetry  func()
}

// OnRetry registers a callback invoked once per retried submission. Used for
// metrics.
func (e *Engine) OnRetry(fn func()) {
	e.onRetry = fn
}

// NewEngine creates an Engine that submits through the given exchange.
func NewEngine(exchange domain.Exchange, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderTypeMarket
	}
	return &Engine{
		exchange: exchange,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		newID:    func() string { return uuid.New().String() },
	}
}

// Execute submits the decision and reconciles the exchange-reported fill.
// Retryable failures are retried with backoff inside the attempt and elapsed
// budgets; any failure that may have reached the exchange is resolved with a
// status lookup before the next submission. Non-retryable failures return
// immediately.
func (e *Engine) Execute(ctx context.Context, decision domain.RiskDecision) (domain.ExecutionResult, error) {
	if decision.Rejected {
		return domain.ExecutionResult{}, fmt.Errorf("executor: decision for %s was rejected (%s)", decision.Symbol, decision.Reason)
	}

	clientOrderID := e.newID()
	req := domain.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        decision.Symbol,
		Side:          decision.Direction,
		Size:          decision.PositionSize,
		Leverage:      decision.Leverage,
		Type:          e.cfg.OrderType,
	}
	if req.Type == domain.OrderTypeLimit {
		req.LimitPrice = decision.EntryPriceHint
	}

	log := e.logger.With(
		slog.String("symbol", decision.Symbol),
		slog.String("side", string(decision.Direction)),
		slog.String("client_order_id", clientOrderID),
	)

	deadline := time.Now().Add(e.cfg.MaxElapsed)
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		state, err := e.exchange.PlaceOrder(ctx, req)
		if err == nil {
			result, reconErr := e.reconcile(ctx, decision, req, state)
			if reconErr == nil {
				log.InfoContext(ctx, "order filled",
					slog.String("order_id", result.OrderID),
					slog.Float64("filled_price", result.FilledPrice),
					slog.Float64("slippage", result.Slippage),
				)
				return result, nil
			}
			err = reconErr
		}
		lastErr = err

		if !retryableOutcome(err) {
			log.ErrorContext(ctx, "order failed fatally",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return domain.ExecutionResult{}, fmt.Errorf("executor: place order: %w", err)
		}

		// The submission may have reached the exchange before failing. Look
		// the order up by client id: a fill here is a success, not a reason
		// to resubmit.
		if state, lookupErr := e.exchange.GetOrderStatus(ctx, req.Symbol, clientOrderID); lookupErr == nil {
			if state.Status == domain.OrderStatusFilled || state.Status == domain.OrderStatusPartially {
				log.WarnContext(ctx, "ambiguous submission resolved as filled",
					slog.Int("attempt", attempt),
					slog.Float64("filled_price", state.FilledPrice),
				)
				return e.reconcile(ctx, decision, req, state)
			}
		} else if !errors.Is(lookupErr, domain.ErrNotFound) {
			log.WarnContext(ctx, "order status lookup failed",
				slog.String("error", lookupErr.Error()),
			)
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}
		wait := e.cfg.Backoff.Next(attempt)
		if time.Now().Add(wait).After(deadline) {
			log.WarnContext(ctx, "retry budget exhausted",
				slog.Int("attempt", attempt),
			)
			break
		}
		if e.onRetry != nil {
			e.onRetry()
		}
		log.WarnContext(ctx, "transient order failure, backing off",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return domain.ExecutionResult{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	return domain.ExecutionResult{}, fmt.Errorf("executor: order not filled after %d attempts: %w", e.cfg.MaxAttempts, lastErr)
}

// reconcile turns an exchange-reported order state into an execution result,
// computing realized slippage against the entry price hint.
func (e *Engine) reconcile(ctx context.Context, decision domain.RiskDecision, req domain.OrderRequest, state domain.OrderState) (domain.ExecutionResult, error) {
	switch state.Status {
	case domain.OrderStatusFilled, domain.OrderStatusPartially:
	case domain.OrderStatusNew:
		// Pending orders are polled until filled or the context gives up.
		resolved, err := e.awaitFill(ctx, req)
		if err != nil {
			return domain.ExecutionResult{}, err
		}
		state = resolved
	default:
		return domain.ExecutionResult{}, fmt.Errorf("order %s status %s: %w", state.OrderID, state.Status, domain.ErrTransient)
	}

	var slippage float64
	if decision.EntryPriceHint > 0 {
		slippage = (state.FilledPrice - decision.EntryPriceHint) / decision.EntryPriceHint
		if decision.Direction == domain.DirectionSell {
			slippage = -slippage
		}
	}

	return domain.ExecutionResult{
		OrderID:     state.OrderID,
		FilledSize:  state.FilledSize,
		FilledPrice: state.FilledPrice,
		Slippage:    slippage,
		Fee:         state.Fee,
	}, nil
}

// awaitFill polls order status for a still-working order. Used for limit
// entries that do not fill synchronously.
func (e *Engine) awaitFill(ctx context.Context, req domain.OrderRequest) (domain.OrderState, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(e.cfg.MaxElapsed)
	for {
		select {
		case <-ctx.Done():
			return domain.OrderState{}, ctx.Err()
		case <-ticker.C:
		}

		state, err := e.exchange.GetOrderStatus(ctx, req.Symbol, req.ClientOrderID)
		if err != nil {
			if domain.Retryable(err) && time.Now().Before(deadline) {
				continue
			}
			return domain.OrderState{}, fmt.Errorf("await fill: %w", err)
		}
		switch state.Status {
		case domain.OrderStatusFilled, domain.OrderStatusPartially:
			return state, nil
		case domain.OrderStatusCancelled, domain.OrderStatusRejected:
			return domain.OrderState{}, fmt.Errorf("order %s ended %s: %w", state.OrderID, state.Status, domain.ErrInvalidRequest)
		}
		if time.Now().After(deadline) {
			return domain.OrderState{}, fmt.Errorf("order %s still %s: %w", state.OrderID, state.Status, domain.ErrTransient)
		}
	}
}

// retryableOutcome classifies an attempt error. Timeouts are treated as
// retryable because the follow-up status lookup disambiguates them.
func retryableOutcome(err error) bool {
	if err == nil {
		return false
	}
	if domain.Retryable(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
