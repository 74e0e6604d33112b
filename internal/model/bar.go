package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLCV bucket of a series. A bar is mutable only while Forming;
// once finalized it is append-only history and never touched again.
//
// For duration timeframes Start/End are the epoch-aligned bucket bounds and
// End is known at open. For tick-count timeframes Start is the first event's
// timestamp and End tracks the most recent event.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int       `json:"trade_count"`
	Forming    bool      `json:"forming"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// BarRecord pairs a finalized bar with its series for persistence fanout.
type BarRecord struct {
	Key SeriesKey `json:"key"`
	Bar Bar       `json:"bar"`
}
