package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// AccountReader exposes the ledger-derived account state.
type AccountReader interface {
	Snapshot() domain.AccountState
}

// BreakerReader exposes the circuit breaker state as a string.
type BreakerReader interface {
	StatusText() string
}

// StatusHandler serves the operator status endpoint: replayed account state,
// breaker state, and currently open positions.
type StatusHandler struct {
	account   AccountReader
	breaker   BreakerReader
	positions domain.PositionStore
	mode      string
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(account AccountReader, breaker BreakerReader, positions domain.PositionStore, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		account:   account,
		breaker:   breaker,
		positions: positions,
		mode:      mode,
		logger:    logHandler(logger, "status"),
	}
}

type positionView struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	Leverage   float64   `json:"leverage"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

type statusResponse struct {
	Mode            string         `json:"mode"`
	Breaker         string         `json:"breaker"`
	Equity          float64        `json:"equity"`
	AvailableMargin float64        `json:"available_margin"`
	DailyPnL        float64        `json:"daily_realized_pnl"`
	ConsecLosses    int            `json:"consecutive_losses"`
	OpenPositions   []positionView `json:"open_positions"`
}

// Status reports the current account and breaker state.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	state := h.account.Snapshot()

	open, err := h.positions.GetOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list open positions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load open positions")
		return
	}

	views := make([]positionView, 0, len(open))
	for _, p := range open {
		views = append(views, positionView{
			ID:         p.ID,
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			EntryPrice: p.EntryPrice,
			Size:       p.Size,
			Leverage:   p.Leverage,
			StopLoss:   p.StopLossPrice,
			TakeProfit: p.TakeProfitPrice,
			OpenedAt:   p.OpenedAt,
		})
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Mode:            h.mode,
		Breaker:         h.breaker.StatusText(),
		Equity:          state.Equity,
		AvailableMargin: state.AvailableMargin,
		DailyPnL:        state.DailyRealizedPnL,
		ConsecLosses:    state.ConsecutiveLosses,
		OpenPositions:   views,
	})
}
