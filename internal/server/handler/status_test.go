package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/marginbot/internal/domain"
	"github.com/driftlabs/marginbot/internal/store/memory"
)

type stubAccount struct{ state domain.AccountState }

func (s stubAccount) Snapshot() domain.AccountState { return s.state }

type stubBreaker struct{ status string }

func (s stubBreaker) StatusText() string { return s.status }

func TestStatusReportsAccountAndPositions(t *testing.T) {
	positions := memory.NewPositionStore()
	require.NoError(t, positions.Create(context.Background(), domain.Position{
		ID:              "p1",
		Symbol:          "BTCUSDT",
		Side:            domain.DirectionBuy,
		EntryPrice:      100,
		Size:            500,
		Leverage:        5,
		StopLossPrice:   98,
		TakeProfitPrice: 104,
		Status:          domain.PositionStatusOpen,
	}))

	h := NewStatusHandler(stubAccount{state: domain.AccountState{
		Equity:            1050,
		AvailableMargin:   950,
		DailyRealizedPnL:  50,
		ConsecutiveLosses: 0,
	}}, stubBreaker{status: "armed"}, positions, "paper", slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "paper", resp.Mode)
	assert.Equal(t, "armed", resp.Breaker)
	assert.InDelta(t, 1050, resp.Equity, 1e-9)
	assert.InDelta(t, 50, resp.DailyPnL, 1e-9)
	require.Len(t, resp.OpenPositions, 1)
	assert.Equal(t, "BTCUSDT", resp.OpenPositions[0].Symbol)
	assert.InDelta(t, 98, resp.OpenPositions[0].StopLoss, 1e-9)
}

type stubController struct {
	closed   int
	stopErr  error
	resetErr error

	stopCalls  int
	resetCalls int
}

func (s *stubController) EmergencyStop(context.Context) (int, error) {
	s.stopCalls++
	return s.closed, s.stopErr
}

func (s *stubController) ResetBreaker(context.Context) error {
	s.resetCalls++
	return s.resetErr
}

func TestAdminEmergencyStop(t *testing.T) {
	ctrl := &stubController{closed: 2}
	h := NewAdminHandler(ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.EmergencyStop(rec, httptest.NewRequest(http.MethodPost, "/api/admin/emergency-stop", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stopped", resp["status"])
	assert.EqualValues(t, 2, resp["positions_closed"])
	assert.Equal(t, 1, ctrl.stopCalls)
}

func TestAdminEmergencyStopPartialFailure(t *testing.T) {
	ctrl := &stubController{closed: 1, stopErr: errors.New("venue unreachable")}
	h := NewAdminHandler(ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.EmergencyStop(rec, httptest.NewRequest(http.MethodPost, "/api/admin/emergency-stop", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "partial", resp["status"])
	assert.EqualValues(t, 1, resp["positions_closed"])
}

func TestAdminResetBreaker(t *testing.T) {
	ctrl := &stubController{}
	h := NewAdminHandler(ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.ResetBreaker(rec, httptest.NewRequest(http.MethodPost, "/api/admin/breaker/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"armed"}`, rec.Body.String())
	assert.Equal(t, 1, ctrl.resetCalls)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
