package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	DefaultQuote = "USDT"

	retCodeSymbolInvalid = 10001
	// reduce-only order rejected because there is nothing left to reduce
	retCodeReduceOnlyZero = 110017
)

type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	quote     string
	client    *http.Client
	logger    *zap.Logger
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL, quote string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	if quote == "" {
		quote = DefaultQuote
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		wsURL:     wsURL,
		quote:     strings.ToUpper(quote),
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// Symbol maps an asset to its linear perpetual symbol, e.g. BTC -> BTCUSDT.
func (b *BybitAdapter) Symbol(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if strings.HasSuffix(asset, b.quote) && len(asset) > len(b.quote) {
		return asset
	}
	return asset + b.quote
}

// --- REST API ---

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) (*apiResponse, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		// For GET, params are in the query string
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if b.apiKey != "" {
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp, recvWindow))
		req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var out apiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// GetPrice returns the last traded price of asset's perpetual.
func (b *BybitAdapter) GetPrice(ctx context.Context, asset string) (float64, error) {
	symbol := b.Symbol(asset)
	resp, err := b.sendRequest(ctx, http.MethodGet, "/v5/market/tickers?category=linear&symbol="+symbol, nil)
	if err != nil {
		return 0, err
	}
	if resp.RetCode == retCodeSymbolInvalid {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, symbol)
	}
	if resp.RetCode != 0 {
		return 0, fmt.Errorf("bybit ticker error: %s", resp.RetMsg)
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, symbol)
	}

	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parse lastPrice %q: %w", result.List[0].LastPrice, err)
	}
	return price, nil
}

// GetPosition returns the first open entry for asset, or a flat position.
// Use positions when hedge-mode entries on both sides matter.
func (b *BybitAdapter) GetPosition(ctx context.Context, asset string) (*domain.Position, error) {
	list, err := b.positions(ctx, asset)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Size > 0 {
			return &list[i], nil
		}
	}
	if len(list) > 0 {
		return &list[0], nil
	}
	return &domain.Position{Exchange: "bybit", Symbol: b.Symbol(asset)}, nil
}

// positions lists every entry Bybit reports for the symbol. One-way mode
// yields one entry (positionIdx 0), hedge mode one per side (1 Buy, 2 Sell).
func (b *BybitAdapter) positions(ctx context.Context, asset string) ([]domain.Position, error) {
	symbol := b.Symbol(asset)
	resp, err := b.sendRequest(ctx, http.MethodGet, "/v5/position/list?category=linear&symbol="+symbol, nil)
	if err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit position error: %s", resp.RetMsg)
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
			PositionIdx   int    `json:"positionIdx"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	out := make([]domain.Position, 0, len(result.List))
	for _, raw := range result.List {
		size, _ := strconv.ParseFloat(raw.Size, 64)
		entry, _ := strconv.ParseFloat(raw.AvgPrice, 64)
		curr, _ := strconv.ParseFloat(raw.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(raw.UnrealisedPnl, 64)
		lev, _ := strconv.ParseFloat(raw.Leverage, 64)

		// Bybit reports side "" or "None" for a flat entry.
		var side domain.Direction
		switch raw.Side {
		case "Buy":
			side = domain.DirectionLong
		case "Sell":
			side = domain.DirectionShort
		}

		sym := raw.Symbol
		if sym == "" {
			sym = symbol
		}
		out = append(out, domain.Position{
			Exchange:      "bybit",
			Symbol:        sym,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			CurrentPrice:  curr,
			UnrealizedPnL: pnl,
			Leverage:      lev,
			PositionIdx:   raw.PositionIdx,
		})
	}
	return out, nil
}

// ClosePosition market-closes the record's share of the exchange position
// with a reduce-only order. Only an entry on the record's side counts: when
// none holds size the record is reported as already closed.
func (b *BybitAdapter) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.CloseStatus, error) {
	// 1. Look up what the exchange actually holds on our side
	list, err := b.positions(ctx, req.Asset)
	if err != nil {
		return "", fmt.Errorf("lookup position: %w", err)
	}
	var pos *domain.Position
	for i := range list {
		if list[i].Side == req.Direction && list[i].Size > 0 {
			pos = &list[i]
			break
		}
	}
	if pos == nil {
		for _, other := range list {
			if other.Size > 0 {
				b.logger.Warn("Exchange position is on the other side, not closing",
					zap.String("asset", req.Asset),
					zap.String("expected", string(req.Direction)),
					zap.String("exchange_side", string(other.Side)))
			}
		}
		return domain.CloseStatusAlreadyClosed, nil
	}

	// Other records may share the exchange position.
	qty := pos.Size
	if req.Size > 0 && req.Size < qty {
		qty = req.Size
	}

	// 2. Reduce-only market order on the opposite side
	closeSide := "Sell"
	if pos.Side == domain.DirectionShort {
		closeSide = "Buy"
	}
	linkID := "dsl-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      pos.Symbol,
		"side":        closeSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly":  true,
		"positionIdx": pos.PositionIdx,
		"orderLinkId": linkID,
	}

	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", payload)
	if err != nil {
		return "", err
	}
	switch resp.RetCode {
	case 0:
	case retCodeReduceOnlyZero:
		return domain.CloseStatusAlreadyClosed, nil
	default:
		return "", fmt.Errorf("bybit close error %d: %s", resp.RetCode, resp.RetMsg)
	}

	b.logger.Info("Close order accepted",
		zap.String("symbol", pos.Symbol),
		zap.String("side", closeSide),
		zap.Float64("qty", qty),
		zap.String("order_link_id", linkID))
	return domain.CloseStatusClosed, nil
}
