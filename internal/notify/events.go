package notify

import (
	"context"
	"fmt"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Event types recognized by the notification filter.
const (
	EventTradeClosed    = "trade_closed"
	EventPositionOpened = "position_opened"
	EventBreakerTripped = "breaker_tripped"
	EventRejection      = "rejection"
	EventEmergencyStop  = "emergency_stop"
)

// TradeClosed formats and sends a closed-trade alert.
func (n *Notifier) TradeClosed(ctx context.Context, trade domain.Trade) error {
	result := "LOSS"
	if trade.Won() {
		result = "WIN"
	}
	title := fmt.Sprintf("%s %s closed (%s)", trade.Symbol, trade.Side, result)
	msg := fmt.Sprintf("exit=%s entry=%.4f exit_price=%.4f size=%.2f pnl=%.2f fees=%.2f",
		trade.ExitReason, trade.EntryPrice, trade.ExitPrice, trade.Size, trade.RealizedPnL, trade.Fees)
	return n.Notify(ctx, EventTradeClosed, title, msg)
}

// PositionOpened formats and sends a position-open alert.
func (n *Notifier) PositionOpened(ctx context.Context, pos domain.Position) error {
	title := fmt.Sprintf("%s %s opened", pos.Symbol, pos.Side)
	msg := fmt.Sprintf("entry=%.4f size=%.2f leverage=%.1fx sl=%.4f tp=%.4f",
		pos.EntryPrice, pos.Size, pos.Leverage, pos.StopLossPrice, pos.TakeProfitPrice)
	return n.Notify(ctx, EventPositionOpened, title, msg)
}

// Rejected reports an intent that risk checks or execution turned away.
func (n *Notifier) Rejected(ctx context.Context, rej domain.Rejection) error {
	title := fmt.Sprintf("%s %s rejected", rej.Symbol, rej.Direction)
	return n.Notify(ctx, EventRejection, title, "reason="+string(rej.Reason))
}

// BreakerTripped sends a circuit-breaker alert; these bypass the event filter
// since a halted bot is always operator-relevant.
func (n *Notifier) BreakerTripped(ctx context.Context, state, detail string) error {
	return n.NotifyAll(ctx, "circuit breaker tripped: "+state, detail)
}

// EmergencyStopped signals that the operator kill switch fired.
func (n *Notifier) EmergencyStopped(ctx context.Context, closed int) error {
	return n.NotifyAll(ctx, "emergency stop", fmt.Sprintf("submissions halted, %d position(s) closed", closed))
}
