package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MarketData is a single price observation for an instrument.
type MarketData struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// Valid reports whether the tick carries a usable price. Historical feeds can
// contain gaps with missing or NaN closes; those ticks are skipped per symbol
// instead of aborting the run.
func (m MarketData) Valid() bool {
	if m.Symbol == "" {
		return false
	}

	if math.IsNaN(m.Close) || math.IsInf(m.Close, 0) {
		return false
	}

	return m.Close > 0
}

// ClosePrice returns the close as a decimal for engine-side money math.
func (m MarketData) ClosePrice() decimal.Decimal {
	return decimal.NewFromFloat(m.Close)
}
