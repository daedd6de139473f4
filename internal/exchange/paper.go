package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Paper simulates a venue in memory. Orders fill immediately at the cached
// last price plus a configurable slippage, and charge a flat fee rate. It is
// the execution backend for paper mode and for the engine tests.
type Paper struct {
	prices domain.PriceCache
	logger *slog.Logger

	slippageBps float64
	feeBps      float64

	mu      sync.Mutex
	balance float64
	locked  float64
	orders  map[string]domain.OrderState // by client order id
}

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	InitialBalance float64
	SlippageBps    float64
	FeeBps         float64
}

func NewPaper(prices domain.PriceCache, cfg PaperConfig, logger *slog.Logger) *Paper {
	return &Paper{
		prices:      prices,
		logger:      logger.With(slog.String("component", "paper_exchange")),
		slippageBps: cfg.SlippageBps,
		feeBps:      cfg.FeeBps,
		balance:     cfg.InitialBalance,
		orders:      make(map[string]domain.OrderState),
	}
}

func (p *Paper) GetBalance(ctx context.Context) (domain.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.AccountSnapshot{
		Balance:         p.balance,
		AvailableMargin: p.balance - p.locked,
	}, nil
}

func (p *Paper) GetTicker(ctx context.Context, symbol string) (float64, error) {
	price, _, err := p.prices.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("paper: ticker %s: %w", symbol, err)
	}
	return price, nil
}

// PlaceOrder fills market orders instantly at last price adjusted by the
// configured slippage; buys fill above last, sells below. Limit orders fill
// at the limit price when it is on the favorable side of last, otherwise the
// order rests and is reported as new.
func (p *Paper) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderState, error) {
	if req.Size <= 0 {
		return domain.OrderState{}, fmt.Errorf("paper: size %.4f: %w", req.Size, domain.ErrInvalidRequest)
	}
	last, err := p.GetTicker(ctx, req.Symbol)
	if err != nil {
		return domain.OrderState{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prior, ok := p.orders[req.ClientOrderID]; ok {
		// resubmission of an already-accepted order
		return prior, nil
	}

	margin := req.Size
	if req.Leverage > 1 {
		margin = req.Size / req.Leverage
	}
	if margin > p.balance-p.locked {
		return domain.OrderState{}, fmt.Errorf("paper: margin %.2f exceeds available: %w", margin, domain.ErrInsufficientFunds)
	}

	fill := p.fillPrice(last, req)
	state := domain.OrderState{
		OrderID:     uuid.New().String(),
		Status:      domain.OrderStatusFilled,
		FilledSize:  req.Size,
		FilledPrice: fill,
		Fee:         req.Size * p.feeBps / 10_000,
	}
	if req.Type == domain.OrderTypeLimit && !limitCrossed(req, last) {
		state.Status = domain.OrderStatusNew
		state.FilledSize = 0
		state.FilledPrice = 0
		state.Fee = 0
	} else {
		p.locked += margin
		p.balance -= state.Fee
	}
	p.orders[req.ClientOrderID] = state
	p.logger.Debug("order placed",
		slog.String("symbol", req.Symbol),
		slog.String("status", string(state.Status)),
		slog.Float64("fill_price", state.FilledPrice))
	return state, nil
}

func (p *Paper) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (domain.OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.orders[clientOrderID]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("paper: order %s: %w", clientOrderID, domain.ErrNotFound)
	}
	return state, nil
}

// ClosePosition fills the closing side at last price with slippage applied
// against the closer, releases the position margin and settles the pnl into
// the simulated balance.
func (p *Paper) ClosePosition(ctx context.Context, pos domain.Position) (domain.OrderState, error) {
	last, err := p.GetTicker(ctx, pos.Symbol)
	if err != nil {
		return domain.OrderState{}, err
	}

	closeSide := domain.DirectionSell
	if pos.Side == domain.DirectionSell {
		closeSide = domain.DirectionBuy
	}
	fill := p.fillPrice(last, domain.OrderRequest{Side: closeSide, Type: domain.OrderTypeMarket})

	p.mu.Lock()
	defer p.mu.Unlock()
	fee := pos.Size * p.feeBps / 10_000
	p.locked -= pos.Margin()
	if p.locked < 0 {
		p.locked = 0
	}
	p.balance += pos.PnLAt(fill) - fee
	state := domain.OrderState{
		OrderID:     uuid.New().String(),
		Status:      domain.OrderStatusFilled,
		FilledSize:  pos.Size,
		FilledPrice: fill,
		Fee:         fee,
	}
	p.logger.Debug("position closed",
		slog.String("symbol", pos.Symbol),
		slog.Float64("fill_price", fill))
	return state, nil
}

// SettleOpen reserves margin bookkeeping for positions restored from the
// ledger on startup so available margin matches the replayed account state.
func (p *Paper) SettleOpen(margin float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked += margin
}

func (p *Paper) fillPrice(last float64, req domain.OrderRequest) float64 {
	slip := last * p.slippageBps / 10_000
	if req.Side == domain.DirectionSell {
		return last - slip
	}
	return last + slip
}

func limitCrossed(req domain.OrderRequest, last float64) bool {
	if req.Side == domain.DirectionBuy {
		return last <= req.LimitPrice
	}
	return last >= req.LimitPrice
}

var _ domain.Exchange = (*Paper)(nil)
