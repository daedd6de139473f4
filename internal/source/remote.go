package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Remote calls an external scoring endpoint (a sentiment scorer or a
// predictive model server) over HTTP. The endpoint is a black box: it
// receives the market context and answers with a direction and confidence,
// or abstains.
type Remote struct {
	id     string
	url    string
	apiKey string
	client *http.Client
}

// NewRemote creates a Remote source for the given endpoint. The HTTP client
// carries no timeout of its own; the per-call context deadline governs.
func NewRemote(id, url, apiKey string) *Remote {
	return &Remote{
		id:     id,
		url:    url,
		apiKey: apiKey,
		client: &http.Client{},
	}
}

// ID implements Source.
func (r *Remote) ID() string { return r.id }

// scoreRequest is the JSON body sent to the endpoint.
type scoreRequest struct {
	Symbol       string    `json:"symbol"`
	LastPrice    float64   `json:"last_price"`
	RecentCloses []float64 `json:"recent_closes"`
	Volatility   float64   `json:"volatility"`
}

// scoreResponse is the JSON answer expected from the endpoint.
type scoreResponse struct {
	Direction  string  `json:"direction"` // "buy", "sell", "hold"
	Confidence float64 `json:"confidence"`
	NoOpinion  bool    `json:"no_opinion"`
}

// Score implements Source.
func (r *Remote) Score(ctx context.Context, mctx domain.MarketContext) (domain.Signal, error) {
	body, err := json.Marshal(scoreRequest{
		Symbol:       mctx.Symbol,
		LastPrice:    mctx.LastPrice,
		RecentCloses: mctx.RecentCloses,
		Volatility:   mctx.Volatility,
	})
	if err != nil {
		return domain.Signal{}, fmt.Errorf("source %s: marshal request: %w", r.id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return domain.Signal{}, fmt.Errorf("source %s: create request: %w", r.id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("source %s: call endpoint: %w", r.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Signal{}, fmt.Errorf("source %s: unexpected status %d: %s", r.id, resp.StatusCode, string(respBody))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return domain.Signal{}, fmt.Errorf("source %s: decode response: %w", r.id, err)
	}
	if sr.NoOpinion {
		return domain.Signal{}, domain.ErrNoOpinion
	}

	var direction domain.Direction
	switch strings.ToLower(sr.Direction) {
	case "buy":
		direction = domain.DirectionBuy
	case "sell":
		direction = domain.DirectionSell
	case "hold":
		direction = domain.DirectionHold
	default:
		return domain.Signal{}, fmt.Errorf("source %s: malformed direction %q", r.id, sr.Direction)
	}
	if sr.Confidence < 0 || sr.Confidence > 1 {
		return domain.Signal{}, fmt.Errorf("source %s: confidence %g out of range", r.id, sr.Confidence)
	}

	return domain.Signal{
		Direction:  direction,
		Confidence: sr.Confidence,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
