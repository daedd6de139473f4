package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Binance adapts the USD-M futures API onto the Exchange interface. Order
// sizes arrive as quote-currency notional and are converted into base
// quantity at the current mark before submission.
type Binance struct {
	api       *futures.Client
	logger    *slog.Logger
	quote     string
	quantityP int // quantity precision for formatting
}

// BinanceConfig carries the venue credentials.
type BinanceConfig struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	QuoteAsset string // margin asset, default USDT
}

func NewBinance(cfg BinanceConfig, logger *slog.Logger) *Binance {
	futures.UseTestnet = cfg.Testnet
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	return &Binance{
		api:       futures.NewClient(cfg.APIKey, cfg.APISecret),
		logger:    logger.With(slog.String("component", "binance_exchange")),
		quote:     quote,
		quantityP: 3,
	}
}

func (b *Binance) GetBalance(ctx context.Context) (domain.AccountSnapshot, error) {
	balances, err := b.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("binance: get balance: %w", mapErr(err))
	}
	for _, bal := range balances {
		if bal.Asset != b.quote {
			continue
		}
		total, err := strconv.ParseFloat(bal.Balance, 64)
		if err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("binance: parse balance %q: %w", bal.Balance, err)
		}
		avail, err := strconv.ParseFloat(bal.AvailableBalance, 64)
		if err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("binance: parse available %q: %w", bal.AvailableBalance, err)
		}
		return domain.AccountSnapshot{Balance: total, AvailableMargin: avail}, nil
	}
	return domain.AccountSnapshot{}, fmt.Errorf("binance: no %s balance: %w", b.quote, domain.ErrNotFound)
}

func (b *Binance) GetTicker(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: ticker %s: %w", symbol, mapErr(err))
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("binance: ticker %s: %w", symbol, domain.ErrNotFound)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse price %q: %w", prices[0].Price, err)
	}
	return price, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderState, error) {
	price := req.LimitPrice
	if req.Type == domain.OrderTypeMarket {
		last, err := b.GetTicker(ctx, req.Symbol)
		if err != nil {
			return domain.OrderState{}, err
		}
		price = last
	}
	qty := b.formatQuantity(req.Size / price)

	if req.Leverage > 0 {
		_, err := b.api.NewChangeLeverageService().
			Symbol(req.Symbol).
			Leverage(int(math.Round(req.Leverage))).
			Do(ctx)
		if err != nil {
			return domain.OrderState{}, fmt.Errorf("binance: set leverage: %w", mapErr(err))
		}
	}

	svc := b.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideFor(req.Side)).
		Quantity(qty).
		NewClientOrderID(req.ClientOrderID)
	switch req.Type {
	case domain.OrderTypeLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(req.LimitPrice, 'f', -1, 64))
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: place order %s: %w", req.Symbol, mapErr(err))
	}
	state, err := orderState(resp.OrderID, string(resp.Status), resp.ExecutedQuantity, resp.AvgPrice)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: place order %s: %w", req.Symbol, err)
	}
	// the API reports base quantity, callers account in quote notional
	state.FilledSize = state.FilledSize * state.FilledPrice
	b.logger.Debug("order submitted",
		slog.String("symbol", req.Symbol),
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("status", string(state.Status)))
	return state, nil
}

func (b *Binance) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (domain.OrderState, error) {
	order, err := b.api.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		if apiCode(err) == -2013 { // order does not exist
			return domain.OrderState{}, fmt.Errorf("binance: order %s: %w", clientOrderID, domain.ErrNotFound)
		}
		return domain.OrderState{}, fmt.Errorf("binance: order status %s: %w", clientOrderID, mapErr(err))
	}
	state, err := orderState(order.OrderID, string(order.Status), order.ExecutedQuantity, order.AvgPrice)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: order status %s: %w", clientOrderID, err)
	}
	state.FilledSize = state.FilledSize * state.FilledPrice
	return state, nil
}

// ClosePosition submits a reduce-only market order on the opposite side.
func (b *Binance) ClosePosition(ctx context.Context, pos domain.Position) (domain.OrderState, error) {
	last, err := b.GetTicker(ctx, pos.Symbol)
	if err != nil {
		return domain.OrderState{}, err
	}
	closeSide := futures.SideTypeSell
	if pos.Side == domain.DirectionSell {
		closeSide = futures.SideTypeBuy
	}
	resp, err := b.api.NewCreateOrderService().
		Symbol(pos.Symbol).
		Side(closeSide).
		Type(futures.OrderTypeMarket).
		Quantity(b.formatQuantity(pos.Size / last)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: close position %s: %w", pos.Symbol, mapErr(err))
	}
	state, err := orderState(resp.OrderID, string(resp.Status), resp.ExecutedQuantity, resp.AvgPrice)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: close position %s: %w", pos.Symbol, err)
	}
	state.FilledSize = state.FilledSize * state.FilledPrice
	return state, nil
}

func (b *Binance) formatQuantity(qty float64) string {
	return strconv.FormatFloat(qty, 'f', b.quantityP, 64)
}

func sideFor(d domain.Direction) futures.SideType {
	if d == domain.DirectionSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func orderState(orderID int64, status, executedQty, avgPrice string) (domain.OrderState, error) {
	qty, err := strconv.ParseFloat(executedQty, 64)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("parse executed qty %q: %w", executedQty, err)
	}
	price, err := strconv.ParseFloat(avgPrice, 64)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("parse avg price %q: %w", avgPrice, err)
	}
	return domain.OrderState{
		OrderID:     strconv.FormatInt(orderID, 10),
		Status:      statusFor(status),
		FilledSize:  qty,
		FilledPrice: price,
	}, nil
}

func statusFor(s string) domain.OrderStatus {
	switch futures.OrderStatusType(s) {
	case futures.OrderStatusTypeNew:
		return domain.OrderStatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartially
	case futures.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return domain.OrderStatusCancelled
	case futures.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusUnknown
	}
}

// mapErr classifies venue errors onto the domain sentinels. API error codes
// follow the binance futures error table; anything without a code is treated
// as a transport failure and retried.
func mapErr(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s", domain.ErrTransient, err)
	}
	switch apiErr.Code {
	case -1003, -1015: // too many requests / too many orders
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Message)
	case -2018, -2019, -4131: // balance/margin insufficient
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, apiErr.Message)
	case -1000, -1001, -1007: // unknown / disconnected / timeout
		return fmt.Errorf("%w: %s", domain.ErrTransient, apiErr.Message)
	case -1021: // timestamp outside recv window, safe to retry after resync
		return fmt.Errorf("%w: %s", domain.ErrTransient, apiErr.Message)
	default:
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, apiErr.Message)
	}
}

func apiCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

var _ domain.Exchange = (*Binance)(nil)
