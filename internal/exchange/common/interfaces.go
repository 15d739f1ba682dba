package common

import (
	"context"
	"errors"
	"time"

	"triarb/internal/orderbook"
)

// Pair is a listed spot market.
type Pair struct {
	Symbol string // venue symbol, e.g. BTCUSDT
	Base   string
	Quote  string
}

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// AmountUnit tells the venue which asset a market order amount is expressed in.
type AmountUnit string

const (
	UnitBase  AmountUnit = "base"
	UnitQuote AmountUnit = "quote"
)

// MarketOrder is a spot market order. Buys are sized in quote units (the
// amount to spend) and sells in base units (the amount to sell).
type MarketOrder struct {
	ClientID string
	Symbol   string
	Side     OrderSide
	Amount   float64
	Unit     AmountUnit
}

// OrderConfirmation is what the venue reported for a submitted order.
// Received is the amount of the acquired asset net of fees, zero when the
// venue did not report fills.
type OrderConfirmation struct {
	OrderID  string
	ClientID string
	Symbol   string
	Side     OrderSide
	Status   string
	Received float64
}

// Balance represents a simple asset balance on an exchange account
type Balance struct {
	Asset string
	Total float64
	Free  float64
}

var ErrNoCredentials = errors.New("api credentials not configured")

// Gateway is the market data and order entry surface of a single venue.
// Every call may fail independently; callers degrade to "no data".
type Gateway interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ListPairs(ctx context.Context) ([]Pair, error)
	GetOrderBook(ctx context.Context, symbol string) (orderbook.L2, error)
	SubmitMarketOrder(ctx context.Context, ord MarketOrder) (OrderConfirmation, error)
	ServerTime(ctx context.Context) (time.Time, error)
	GetBalances(ctx context.Context) ([]Balance, error)
}

// BookSource is the read-only part of Gateway used by the evaluator.
type BookSource interface {
	Name() string
	GetOrderBook(ctx context.Context, symbol string) (orderbook.L2, error)
}

// OrderSubmitter is the order entry part of Gateway used by the sequencer.
type OrderSubmitter interface {
	Name() string
	SubmitMarketOrder(ctx context.Context, ord MarketOrder) (OrderConfirmation, error)
}
