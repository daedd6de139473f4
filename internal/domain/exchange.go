package domain

import "context"

// OrderType selects how entry orders are submitted.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the exchange-reported state of a submitted order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusPartially OrderStatus = "partially_filled"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusUnknown   OrderStatus = "unknown"
)

// OrderState is the reconciled view of an order returned by status lookups.
type OrderState struct {
	OrderID     string
	Status      OrderStatus
	FilledSize  float64
	FilledPrice float64
	Fee         float64
}

// AccountSnapshot is the exchange-side view of the trading account.
type AccountSnapshot struct {
	Balance         float64
	AvailableMargin float64
}

// OrderRequest describes one order submission. ClientOrderID is caller
// generated and is the idempotency key for status lookups after ambiguous
// failures.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Direction
	Size          float64 // quote-currency notional
	Leverage      float64
	Type          OrderType
	LimitPrice    float64 // only for OrderTypeLimit
}

// Exchange is the external trading venue. Implementations map venue errors
// onto the typed sentinels in errors.go so callers can classify retryability
// with errors.Is.
type Exchange interface {
	GetBalance(ctx context.Context) (AccountSnapshot, error)
	GetTicker(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderState, error)
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (OrderState, error)
	ClosePosition(ctx context.Context, pos Position) (OrderState, error)
}
