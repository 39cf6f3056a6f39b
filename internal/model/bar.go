package model

import (
	"encoding/json"
	"time"
)

// Bar represents one OHLCV observation for a single instrument and period.
// All prices are in cents (int64) to avoid floating-point drift in storage
// and transport; computation layers convert to dollars at their boundary.
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`     // bar period start (UTC)
	Open   int64     `json:"open"`   // cents
	High   int64     `json:"high"`   // cents
	Low    int64     `json:"low"`    // cents
	Close  int64     `json:"close"`  // cents
	Volume int64     `json:"volume"` // shares traded in this period
}

// StreamKey returns the Redis stream key for this bar's instrument: "bars:{symbol}".
func (b *Bar) StreamKey() string {
	return "bars:" + b.Symbol
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// OpenDollars returns the open price converted from cents to dollars.
func (b *Bar) OpenDollars() float64 { return float64(b.Open) / 100.0 }

// CloseDollars returns the close price converted from cents to dollars.
func (b *Bar) CloseDollars() float64 { return float64(b.Close) / 100.0 }

// HighDollars returns the high price converted from cents to dollars.
func (b *Bar) HighDollars() float64 { return float64(b.High) / 100.0 }

// LowDollars returns the low price converted from cents to dollars.
func (b *Bar) LowDollars() float64 { return float64(b.Low) / 100.0 }
