// Package ledger appends trade records to an append-only store.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type Status string

const (
	StatusDetected  Status = "detected"
	StatusSimulated Status = "simulated"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Header is the fixed first row of a new CSV ledger.
var Header = []string{"timestamp", "route", "profit_percent", "volume_usdt", "status", "details"}

const timeLayout = "2006-01-02 15:04:05.000000"

type Record struct {
	Time      time.Time
	Route     string
	ProfitPct float64
	Volume    float64
	Status    Status
	Details   string
}

func (r Record) row() []string {
	return []string{
		r.Time.UTC().Format(timeLayout),
		r.Route,
		strconv.FormatFloat(r.ProfitPct, 'f', 4, 64),
		strconv.FormatFloat(r.Volume, 'f', -1, 64),
		string(r.Status),
		r.Details,
	}
}

type Ledger interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Open returns the ledger for driver ("csv" or "sqlite") at path.
func Open(driver, path string) (Ledger, error) {
	switch driver {
	case "", "csv":
		return OpenCSV(path)
	case "sqlite":
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("ledger: unknown driver %q", driver)
}
