package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"

	"triarb/internal/orderbook"
)

// ParseLevels converts venue [price, qty] string pairs into book levels.
func ParseLevels(raw [][]string) ([]orderbook.Level, error) {
	out := make([]orderbook.Level, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			return nil, fmt.Errorf("malformed level %v", lv)
		}
		p, err := decimal.NewFromString(lv[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lv[0], err)
		}
		q, err := decimal.NewFromString(lv[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", lv[1], err)
		}
		out = append(out, orderbook.Level{Price: p.InexactFloat64(), Qty: q.InexactFloat64()})
	}
	return out, nil
}

// FormatAmount rounds v down to a multiple of step. A zero step keeps eight
// decimals.
func FormatAmount(v float64, step decimal.Decimal) string {
	d := decimal.NewFromFloat(v)
	if step.Sign() <= 0 {
		return d.Truncate(8).String()
	}
	return d.Div(step).Floor().Mul(step).String()
}

// ParseFloat reads a venue decimal string; empty strings are zero.
func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// SignHex returns the hex HMAC-SHA256 of payload.
func SignHex(secret, payload string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(payload))
	return hex.EncodeToString(m.Sum(nil))
}
