package exchange

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/marginbot/internal/domain"
)

type mapPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (m *mapPrices) SetPrice(_ context.Context, symbol string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	return nil
}

func (m *mapPrices) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, time.Now().UTC(), nil
}

func (m *mapPrices) PushClose(context.Context, string, float64) error { return nil }

func (m *mapPrices) RecentCloses(context.Context, string, int) ([]float64, error) {
	return nil, nil
}

var _ domain.PriceCache = (*mapPrices)(nil)

func newTestPaper(t *testing.T, last float64) *Paper {
	t.Helper()
	prices := &mapPrices{prices: map[string]float64{"BTCUSDT": last}}
	return NewPaper(prices, PaperConfig{
		InitialBalance: 10_000,
		SlippageBps:    10,
		FeeBps:         4,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func marketOrder(id string, side domain.Direction, size, leverage float64) domain.OrderRequest {
	return domain.OrderRequest{
		ClientOrderID: id,
		Symbol:        "BTCUSDT",
		Side:          side,
		Size:          size,
		Leverage:      leverage,
		Type:          domain.OrderTypeMarket,
	}
}

func TestPaperMarketBuyFillsWithSlippageAndFee(t *testing.T) {
	p := newTestPaper(t, 100)

	state, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionBuy, 1000, 5))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, state.Status)
	assert.InDelta(t, 100.1, state.FilledPrice, 1e-9) // 10 bps against the buyer
	assert.InDelta(t, 1000, state.FilledSize, 1e-9)
	assert.InDelta(t, 0.4, state.Fee, 1e-9) // 4 bps of notional

	snap, err := p.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 9999.6, snap.Balance, 1e-9)
	assert.InDelta(t, 9799.6, snap.AvailableMargin, 1e-9) // 200 margin locked
}

func TestPaperMarketSellFillsBelowLast(t *testing.T) {
	p := newTestPaper(t, 100)

	state, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionSell, 1000, 5))
	require.NoError(t, err)
	assert.InDelta(t, 99.9, state.FilledPrice, 1e-9)
}

func TestPaperRejectsInsufficientMargin(t *testing.T) {
	p := newTestPaper(t, 100)

	_, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionBuy, 1_000_000, 5))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestPaperRejectsZeroSize(t *testing.T) {
	p := newTestPaper(t, 100)

	_, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionBuy, 0, 5))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPaperResubmissionIsIdempotent(t *testing.T) {
	p := newTestPaper(t, 100)

	first, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionBuy, 1000, 5))
	require.NoError(t, err)
	second, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionBuy, 1000, 5))
	require.NoError(t, err)

	// Same client order id returns the original fill; margin locks once.
	assert.Equal(t, first.OrderID, second.OrderID)
	snap, err := p.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 9799.6, snap.AvailableMargin, 1e-9)
}

func TestPaperOrderStatusLookup(t *testing.T) {
	p := newTestPaper(t, 100)

	placed, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionBuy, 1000, 5))
	require.NoError(t, err)

	state, err := p.GetOrderStatus(context.Background(), "BTCUSDT", "c1")
	require.NoError(t, err)
	assert.Equal(t, placed.OrderID, state.OrderID)

	_, err = p.GetOrderStatus(context.Background(), "BTCUSDT", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaperLimitOrderRestsUntilCrossed(t *testing.T) {
	p := newTestPaper(t, 100)

	req := marketOrder("c1", domain.DirectionBuy, 1000, 5)
	req.Type = domain.OrderTypeLimit
	req.LimitPrice = 99

	// Last at 100 does not cross a 99 buy limit; the order rests.
	state, err := p.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, state.Status)
	assert.Zero(t, state.FilledSize)

	snap, err := p.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10_000, snap.AvailableMargin, 1e-9)

	// A crossable limit fills immediately.
	crossed := marketOrder("c2", domain.DirectionBuy, 1000, 5)
	crossed.Type = domain.OrderTypeLimit
	crossed.LimitPrice = 101
	state, err = p.PlaceOrder(context.Background(), crossed)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, state.Status)
}

func TestPaperClosePositionSettlesPnL(t *testing.T) {
	p := newTestPaper(t, 100)

	_, err := p.PlaceOrder(context.Background(), marketOrder("c1", domain.DirectionBuy, 1000, 5))
	require.NoError(t, err)

	require.NoError(t, p.prices.SetPrice(context.Background(), "BTCUSDT", 102))

	pos := domain.Position{
		ID:         "p1",
		Symbol:     "BTCUSDT",
		Side:       domain.DirectionBuy,
		EntryPrice: 100.1,
		Size:       1000,
		Leverage:   5,
		Status:     domain.PositionStatusOpen,
	}
	state, err := p.ClosePosition(context.Background(), pos)
	require.NoError(t, err)

	// Closing a long sells: 102 minus 10 bps.
	assert.InDelta(t, 101.898, state.FilledPrice, 1e-9)
	assert.InDelta(t, 0.4, state.Fee, 1e-9)

	snap, err := p.GetBalance(context.Background())
	require.NoError(t, err)
	pnl := (101.898 - 100.1) / 100.1 * 1000
	assert.InDelta(t, 9999.6+pnl-0.4, snap.Balance, 1e-9)
	// Margin released in full.
	assert.InDelta(t, snap.Balance, snap.AvailableMargin, 1e-9)
}
