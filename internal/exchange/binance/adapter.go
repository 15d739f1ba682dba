package binance

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"triarb/internal/config"
	"triarb/internal/exchange/common"
	"triarb/internal/infra/network"
	"triarb/internal/orderbook"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type symbolInfo struct {
	base, quote         string
	baseStep, quoteStep decimal.Decimal
}

type Adapter struct {
	cfg     config.Config
	rest    *resty.Client
	limiter *network.TokenBucket
	log     zerolog.Logger

	mu      sync.RWMutex
	symbols map[string]symbolInfo
}

func New(cfg config.Config, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		rest:    network.NewRESTClient(cfg.Exchange.Binance.BaseURL, cfg.RequestTimeout()),
		limiter: network.NewTokenBucket(cfg.Exchange.RateLimit.Burst, cfg.Exchange.RateLimit.PerSecond),
		log:     logger.With().Str("component", "binance").Logger(),
		symbols: make(map[string]symbolInfo),
	}
}

func (a *Adapter) Name() string                    { return "binance" }
func (a *Adapter) Start(ctx context.Context) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error {
	a.rest.GetClient().CloseIdleConnections()
	return nil
}

func (a *Adapter) ListPairs(ctx context.Context) ([]common.Pair, error) {
	var info struct {
		Symbols []struct {
			Symbol              string `json:"symbol"`
			Status              string `json:"status"`
			BaseAsset           string `json:"baseAsset"`
			QuoteAsset          string `json:"quoteAsset"`
			QuoteAssetPrecision int    `json:"quoteAssetPrecision"`
			Filters             []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := a.do(ctx, resty.MethodGet, "/api/v3/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}
	pairs := make([]common.Pair, 0, len(info.Symbols))
	symbols := make(map[string]symbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		si := symbolInfo{base: s.BaseAsset, quote: s.QuoteAsset}
		if s.QuoteAssetPrecision > 0 {
			si.quoteStep = decimal.New(1, -int32(s.QuoteAssetPrecision))
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				si.baseStep, _ = decimal.NewFromString(f.StepSize)
			}
		}
		symbols[s.Symbol] = si
		pairs = append(pairs, common.Pair{Symbol: s.Symbol, Base: s.BaseAsset, Quote: s.QuoteAsset})
	}
	a.mu.Lock()
	a.symbols = symbols
	a.mu.Unlock()
	return pairs, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol string) (orderbook.L2, error) {
	depth := a.cfg.Exchange.Binance.BookDepth
	if depth <= 0 {
		depth = 50
	}
	var d struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	q := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	if err := a.do(ctx, resty.MethodGet, "/api/v3/depth", q, false, &d); err != nil {
		return orderbook.L2{}, err
	}
	bids, err := common.ParseLevels(d.Bids)
	if err != nil {
		return orderbook.L2{}, fmt.Errorf("binance %s bids: %w", symbol, err)
	}
	asks, err := common.ParseLevels(d.Asks)
	if err != nil {
		return orderbook.L2{}, fmt.Errorf("binance %s asks: %w", symbol, err)
	}
	return orderbook.L2{Bids: bids, Asks: asks}, nil
}

func (a *Adapter) ServerTime(ctx context.Context) (time.Time, error) {
	var t struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := a.do(ctx, resty.MethodGet, "/api/v3/time", nil, false, &t); err != nil {
		return time.Time{}, err
	}
	if t.ServerTime <= 0 {
		return time.Time{}, fmt.Errorf("binance: empty server time")
	}
	return time.UnixMilli(t.ServerTime), nil
}

func (a *Adapter) GetBalances(ctx context.Context) ([]common.Balance, error) {
	var acct struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := a.do(ctx, resty.MethodGet, "/api/v3/account", url.Values{"omitZeroBalances": {"true"}}, true, &acct); err != nil {
		return nil, err
	}
	out := make([]common.Balance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free := common.ParseFloat(b.Free)
		out = append(out, common.Balance{Asset: b.Asset, Free: free, Total: free + common.ParseFloat(b.Locked)})
	}
	return out, nil
}

// SubmitMarketOrder sends a MARKET order with a FULL response so the fills
// are known without a second call. Buys spend quoteOrderQty, sells sell
// quantity.
func (a *Adapter) SubmitMarketOrder(ctx context.Context, ord common.MarketOrder) (common.OrderConfirmation, error) {
	a.mu.RLock()
	si, known := a.symbols[ord.Symbol]
	a.mu.RUnlock()

	side := "BUY"
	if ord.Side == common.Sell {
		side = "SELL"
	}
	q := url.Values{
		"symbol":           {ord.Symbol},
		"side":             {side},
		"type":             {"MARKET"},
		"newClientOrderId": {ord.ClientID},
		"newOrderRespType": {"FULL"},
	}
	if ord.Unit == common.UnitQuote {
		q.Set("quoteOrderQty", common.FormatAmount(ord.Amount, si.quoteStep))
	} else {
		q.Set("quantity", common.FormatAmount(ord.Amount, si.baseStep))
	}
	var r struct {
		OrderID             int64  `json:"orderId"`
		ClientOrderID       string `json:"clientOrderId"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Fills               []struct {
			Commission      string `json:"commission"`
			CommissionAsset string `json:"commissionAsset"`
		} `json:"fills"`
	}
	if err := a.do(ctx, resty.MethodPost, "/api/v3/order", q, true, &r); err != nil {
		return common.OrderConfirmation{}, err
	}
	conf := common.OrderConfirmation{
		OrderID:  strconv.FormatInt(r.OrderID, 10),
		ClientID: r.ClientOrderID,
		Symbol:   ord.Symbol,
		Side:     ord.Side,
		Status:   r.Status,
	}
	if !known {
		a.log.Warn().Str("symbol", ord.Symbol).Msg("order on unlisted symbol, fills not derived")
		return conf, nil
	}
	received, asset := common.ParseFloat(r.ExecutedQty), si.base
	if ord.Side == common.Sell {
		received, asset = common.ParseFloat(r.CummulativeQuoteQty), si.quote
	}
	for _, f := range r.Fills {
		if f.CommissionAsset == asset {
			received -= common.ParseFloat(f.Commission)
		}
	}
	conf.Received = math.Max(received, 0)
	return conf, nil
}

// do issues a request with parameters in the query string. Signed requests
// append timestamp, recvWindow and the HMAC of the encoded parameters.
func (a *Adapter) do(ctx context.Context, method, path string, q url.Values, signed bool, out any) error {
	if signed && (a.cfg.Exchange.Binance.APIKey == "" || a.cfg.Exchange.Binance.Secret == "") {
		return common.ErrNoCredentials
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if q == nil {
		q = url.Values{}
	}
	req := a.rest.R().SetContext(ctx).SetResult(out).SetError(&apiError{})
	query := q.Encode()
	if signed {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if rw := a.cfg.Exchange.Binance.RecvWindowMs; rw > 0 {
			q.Set("recvWindow", strconv.Itoa(rw))
		}
		query = q.Encode()
		query += "&signature=" + common.SignHex(a.cfg.Exchange.Binance.Secret, query)
		req.SetHeader("X-MBX-APIKEY", a.cfg.Exchange.Binance.APIKey)
	}
	target := path
	if query != "" {
		target += "?" + query
	}
	resp, err := req.Execute(method, target)
	if err != nil {
		return fmt.Errorf("binance %s: %w", path, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Msg != "" {
			return fmt.Errorf("binance %s: code %d: %s", path, e.Code, e.Msg)
		}
		return fmt.Errorf("binance %s: http %d: %s", path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
