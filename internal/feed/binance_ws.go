// Package feed streams market data into the price cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftlabs/marginbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BinanceWSFeed subscribes to the futures combined stream for mark prices and
// 1m klines, and writes both into the price cache. Mark prices become the
// last price used for exit checks; closed klines feed the recent-closes
// window the momentum source and the volatility estimate read from.
type BinanceWSFeed struct {
	wsURL   string
	symbols []string
	prices  domain.PriceCache
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewBinanceWSFeed creates a feed for the given symbols. wsURL is the
// combined-stream endpoint, e.g. "wss://fstream.binance.com/stream".
func NewBinanceWSFeed(wsURL string, symbols []string, prices domain.PriceCache, logger *slog.Logger) *BinanceWSFeed {
	return &BinanceWSFeed{
		wsURL:   wsURL,
		symbols: symbols,
		prices:  prices,
		logger:  logger.With(slog.String("component", "binance_ws_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and consumes stream messages until ctx is cancelled,
// reconnecting with exponential backoff on disconnect.
func (f *BinanceWSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *BinanceWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *BinanceWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Binance also sends protocol-level pings we must answer.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	go f.pingLoop(ctx, conn)
	f.logger.Info("stream connected", slog.Int("symbols", len(f.symbols)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := f.handleMessage(ctx, data); err != nil {
			f.logger.Debug("drop stream message",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(data)))
		}
	}
}

func (f *BinanceWSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (f *BinanceWSFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols)*2)
	for _, s := range f.symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@markPrice@1s", lower+"@kline_1m")
	}
	return f.wsURL + "?streams=" + strings.Join(streams, "/")
}

// combinedMessage is the envelope for combined-stream payloads.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPriceEvent struct {
	Event  string `json:"e"`
	Time   int64  `json:"E"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		Close  string `json:"c"`
		Closed bool   `json:"x"`
	} `json:"k"`
}

func (f *BinanceWSFeed) handleMessage(ctx context.Context, data []byte) error {
	var msg combinedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("feed: decode envelope: %w", err)
	}
	switch {
	case strings.Contains(msg.Stream, "@markPrice"):
		var ev markPriceEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("feed: decode mark price: %w", err)
		}
		price, err := strconv.ParseFloat(ev.Price, 64)
		if err != nil {
			return fmt.Errorf("feed: parse mark price %q: %w", ev.Price, err)
		}
		return f.prices.SetPrice(ctx, ev.Symbol, price)
	case strings.Contains(msg.Stream, "@kline"):
		var ev klineEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("feed: decode kline: %w", err)
		}
		if !ev.Kline.Closed {
			return nil
		}
		closePrice, err := strconv.ParseFloat(ev.Kline.Close, 64)
		if err != nil {
			return fmt.Errorf("feed: parse close %q: %w", ev.Kline.Close, err)
		}
		return f.prices.PushClose(ctx, ev.Symbol, closePrice)
	default:
		return nil
	}
}