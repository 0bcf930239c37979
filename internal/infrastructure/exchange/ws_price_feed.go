package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

const defaultWSWait = 10 * time.Second

// WSPriceFeed reads one ticker snapshot per call from the public stream.
// There is no long-lived connection: each cycle opens, subscribes, reads the
// first ticker message and closes.
type WSPriceFeed struct {
	url    string
	symbol func(asset string) string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// StreamFeed returns a websocket price feed sharing the adapter's symbol mapping.
func (b *BybitAdapter) StreamFeed() *WSPriceFeed {
	return NewWSPriceFeed(b.wsURL, b.Symbol, b.logger)
}

func NewWSPriceFeed(url string, symbol func(string) string, logger *zap.Logger) *WSPriceFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSPriceFeed{
		url:    url,
		symbol: symbol,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

type tickerEvent struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
	Data    struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func (f *WSPriceFeed) GetPrice(ctx context.Context, asset string) (float64, error) {
	symbol := f.symbol(asset)
	topic := "tickers." + symbol

	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("ws dial: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWSWait)
	}
	_ = conn.SetReadDeadline(deadline)

	// Unblock the read if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{topic},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return 0, fmt.Errorf("ws subscribe: %w", err)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("ws read: %w", err)
		}

		var event tickerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			f.logger.Debug("Skipping undecodable ws message", zap.Error(err))
			continue
		}
		if event.Op == "subscribe" && event.Success != nil && !*event.Success {
			return 0, fmt.Errorf("%w: %s (%s)", domain.ErrUnknownAsset, symbol, event.RetMsg)
		}
		if event.Topic != topic || event.Data.LastPrice == "" {
			continue
		}

		price, err := strconv.ParseFloat(event.Data.LastPrice, 64)
		if err != nil {
			return 0, fmt.Errorf("parse lastPrice %q: %w", event.Data.LastPrice, err)
		}
		return price, nil
	}
}
