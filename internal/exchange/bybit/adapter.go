package bybit

import (
	"context"
	"encoding/json"
	"fmt"
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

// envelope is the v5 response wrapper shared by every endpoint.
type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

type precision struct {
	base  decimal.Decimal
	quote decimal.Decimal
}

type Adapter struct {
	cfg     config.Config
	rest    *resty.Client
	limiter *network.TokenBucket
	log     zerolog.Logger

	mu    sync.RWMutex
	steps map[string]precision
}

func New(cfg config.Config, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		rest:    network.NewRESTClient(cfg.Exchange.Bybit.BaseURL, cfg.RequestTimeout()),
		limiter: network.NewTokenBucket(cfg.Exchange.RateLimit.Burst, cfg.Exchange.RateLimit.PerSecond),
		log:     logger.With().Str("component", "bybit").Logger(),
		steps:   make(map[string]precision),
	}
}

func (a *Adapter) Name() string                    { return "bybit" }
func (a *Adapter) Start(ctx context.Context) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error {
	a.rest.GetClient().CloseIdleConnections()
	return nil
}

func (a *Adapter) ListPairs(ctx context.Context) ([]common.Pair, error) {
	var env envelope[struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				BasePrecision  string `json:"basePrecision"`
				QuotePrecision string `json:"quotePrecision"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}]
	if err := a.get(ctx, "/v5/market/instruments-info", url.Values{"category": {"spot"}}, &env); err != nil {
		return nil, err
	}
	pairs := make([]common.Pair, 0, len(env.Result.List))
	steps := make(map[string]precision, len(env.Result.List))
	for _, in := range env.Result.List {
		if in.Status != "" && in.Status != "Trading" {
			continue
		}
		pairs = append(pairs, common.Pair{Symbol: in.Symbol, Base: in.BaseCoin, Quote: in.QuoteCoin})
		base, _ := decimal.NewFromString(in.LotSizeFilter.BasePrecision)
		quote, _ := decimal.NewFromString(in.LotSizeFilter.QuotePrecision)
		steps[in.Symbol] = precision{base: base, quote: quote}
	}
	a.mu.Lock()
	a.steps = steps
	a.mu.Unlock()
	return pairs, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol string) (orderbook.L2, error) {
	depth := a.cfg.Exchange.Bybit.BookDepth
	if depth <= 0 {
		depth = 50
	}
	var env envelope[struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	}]
	q := url.Values{"category": {"spot"}, "symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	if err := a.get(ctx, "/v5/market/orderbook", q, &env); err != nil {
		return orderbook.L2{}, err
	}
	bids, err := common.ParseLevels(env.Result.Bids)
	if err != nil {
		return orderbook.L2{}, fmt.Errorf("bybit %s bids: %w", symbol, err)
	}
	asks, err := common.ParseLevels(env.Result.Asks)
	if err != nil {
		return orderbook.L2{}, fmt.Errorf("bybit %s asks: %w", symbol, err)
	}
	return orderbook.L2{Bids: bids, Asks: asks}, nil
}

func (a *Adapter) ServerTime(ctx context.Context) (time.Time, error) {
	var env envelope[struct {
		TimeSecond string `json:"timeSecond"`
		TimeNano   string `json:"timeNano"`
	}]
	if err := a.get(ctx, "/v5/market/time", nil, &env); err != nil {
		return time.Time{}, err
	}
	if ns, err := strconv.ParseInt(env.Result.TimeNano, 10, 64); err == nil && ns > 0 {
		return time.Unix(0, ns), nil
	}
	if s, err := strconv.ParseInt(env.Result.TimeSecond, 10, 64); err == nil && s > 0 {
		return time.Unix(s, 0), nil
	}
	if env.Time > 0 {
		return time.UnixMilli(env.Time), nil
	}
	return time.Time{}, fmt.Errorf("bybit: empty server time")
}

func (a *Adapter) GetBalances(ctx context.Context) ([]common.Balance, error) {
	var env envelope[struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}]
	accountType := a.cfg.Exchange.Bybit.AccountType
	if accountType == "" {
		accountType = "UNIFIED"
	}
	if err := a.signedGet(ctx, "/v5/account/wallet-balance", url.Values{"accountType": {accountType}}, &env); err != nil {
		return nil, err
	}
	var out []common.Balance
	for _, acct := range env.Result.List {
		for _, c := range acct.Coin {
			total := common.ParseFloat(c.WalletBalance)
			out = append(out, common.Balance{Asset: c.Coin, Total: total, Free: total - common.ParseFloat(c.Locked)})
		}
	}
	return out, nil
}

// SubmitMarketOrder places a spot market order. Buys are sized in the quote
// coin and sells in the base coin. After acceptance the order is read back
// once to learn the filled amount; a failed read-back leaves Received zero.
func (a *Adapter) SubmitMarketOrder(ctx context.Context, ord common.MarketOrder) (common.OrderConfirmation, error) {
	a.mu.RLock()
	p := a.steps[ord.Symbol]
	a.mu.RUnlock()

	side, unit, step := "Buy", "quoteCoin", p.quote
	if ord.Side == common.Sell {
		side = "Sell"
	}
	if ord.Unit == common.UnitBase {
		unit, step = "baseCoin", p.base
	}
	body := map[string]string{
		"category":    "spot",
		"symbol":      ord.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         common.FormatAmount(ord.Amount, step),
		"marketUnit":  unit,
		"orderLinkId": ord.ClientID,
	}
	var env envelope[struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}]
	if err := a.signedPost(ctx, "/v5/order/create", body, &env); err != nil {
		return common.OrderConfirmation{}, err
	}
	conf := common.OrderConfirmation{
		OrderID:  env.Result.OrderID,
		ClientID: ord.ClientID,
		Symbol:   ord.Symbol,
		Side:     ord.Side,
		Status:   "New",
	}
	status, received, err := a.fills(ctx, conf.OrderID, ord.Side)
	if err != nil {
		a.log.Debug().Err(err).Str("order_id", conf.OrderID).Msg("fill read-back failed")
		return conf, nil
	}
	conf.Status = status
	conf.Received = received
	return conf, nil
}

func (a *Adapter) fills(ctx context.Context, orderID string, side common.OrderSide) (string, float64, error) {
	var env envelope[struct {
		List []struct {
			OrderStatus  string `json:"orderStatus"`
			CumExecQty   string `json:"cumExecQty"`
			CumExecValue string `json:"cumExecValue"`
			CumExecFee   string `json:"cumExecFee"`
		} `json:"list"`
	}]
	q := url.Values{"category": {"spot"}, "orderId": {orderID}}
	if err := a.signedGet(ctx, "/v5/order/realtime", q, &env); err != nil {
		return "", 0, err
	}
	if len(env.Result.List) == 0 {
		return "", 0, fmt.Errorf("bybit: order %s not found", orderID)
	}
	o := env.Result.List[0]
	// spot fees are charged in the received coin
	received := common.ParseFloat(o.CumExecQty)
	if side == common.Sell {
		received = common.ParseFloat(o.CumExecValue)
	}
	received -= common.ParseFloat(o.CumExecFee)
	if received < 0 {
		received = 0
	}
	return o.OrderStatus, received, nil
}

func (a *Adapter) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	target := path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	resp, err := a.rest.R().SetContext(ctx).SetResult(out).Get(target)
	return check(path, resp, err, out)
}

func (a *Adapter) signedGet(ctx context.Context, path string, q url.Values, out any) error {
	if a.cfg.Exchange.Bybit.APIKey == "" || a.cfg.Exchange.Bybit.Secret == "" {
		return common.ErrNoCredentials
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	query := q.Encode()
	resp, err := a.rest.R().SetContext(ctx).
		SetHeaders(a.authHeaders(query)).
		SetResult(out).
		Get(path + "?" + query)
	return check(path, resp, err, out)
}

func (a *Adapter) signedPost(ctx context.Context, path string, body any, out any) error {
	if a.cfg.Exchange.Bybit.APIKey == "" || a.cfg.Exchange.Bybit.Secret == "" {
		return common.ErrNoCredentials
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := a.rest.R().SetContext(ctx).
		SetHeaders(a.authHeaders(string(raw))).
		SetHeader("Content-Type", "application/json").
		SetBody(raw).
		SetResult(out).
		Post(path)
	return check(path, resp, err, out)
}

// authHeaders signs timestamp+key+recvWindow+payload as required by v5.
func (a *Adapter) authHeaders(payload string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recv := strconv.Itoa(a.cfg.Exchange.Bybit.RecvWindowMs)
	key := a.cfg.Exchange.Bybit.APIKey
	return map[string]string{
		"X-BAPI-API-KEY":     key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recv,
		"X-BAPI-SIGN":        common.SignHex(a.cfg.Exchange.Bybit.Secret, ts+key+recv+payload),
	}
}

type retCoder interface{ code() (int, string) }

func (e *envelope[T]) code() (int, string) { return e.RetCode, e.RetMsg }

func check(path string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return fmt.Errorf("bybit %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("bybit %s: http %d: %s", path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if rc, ok := out.(retCoder); ok {
		if code, msg := rc.code(); code != 0 {
			return fmt.Errorf("bybit %s: retCode %d: %s", path, code, msg)
		}
	}
	return nil
}
