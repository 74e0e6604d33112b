package model

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Trade is a single executed trade for a symbol.
type Trade struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
}

// Validate rejects malformed trades before any series state is touched.
func (t *Trade) Validate() error {
	if t.Symbol == "" {
		return errors.Wrap(ErrBadEvent, "trade: empty symbol")
	}
	if t.TS.IsZero() {
		return errors.Wrapf(ErrBadEvent, "trade %s: zero timestamp", t.Symbol)
	}
	if !(t.Price > 0) || math.IsInf(t.Price, 0) {
		return errors.Wrapf(ErrBadEvent, "trade %s: non-positive price %v", t.Symbol, t.Price)
	}
	if !(t.Size > 0) || math.IsInf(t.Size, 0) {
		return errors.Wrapf(ErrBadEvent, "trade %s: non-positive size %v", t.Symbol, t.Size)
	}
	return nil
}

// Quote is a top-of-book update for a symbol.
type Quote struct {
	Symbol  string    `json:"symbol"`
	TS      time.Time `json:"ts"`
	Bid     float64   `json:"bid"`
	Ask     float64   `json:"ask"`
	BidSize float64   `json:"bid_size"`
	AskSize float64   `json:"ask_size"`
}

// Mid returns the quote midpoint, the price quotes contribute to bars.
func (q *Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Validate rejects malformed quotes before any series state is touched.
func (q *Quote) Validate() error {
	if q.Symbol == "" {
		return errors.Wrap(ErrBadEvent, "quote: empty symbol")
	}
	if q.TS.IsZero() {
		return errors.Wrapf(ErrBadEvent, "quote %s: zero timestamp", q.Symbol)
	}
	if !(q.Bid > 0) || !(q.Ask > 0) || math.IsInf(q.Bid, 0) || math.IsInf(q.Ask, 0) {
		return errors.Wrapf(ErrBadEvent, "quote %s: non-positive bid/ask %v/%v", q.Symbol, q.Bid, q.Ask)
	}
	if q.BidSize < 0 || q.AskSize < 0 {
		return errors.Wrapf(ErrBadEvent, "quote %s: negative size", q.Symbol)
	}
	return nil
}

// MarketEvent is the wire envelope used by feeds: exactly one field is set.
type MarketEvent struct {
	Trade *Trade `json:"trade,omitempty"`
	Quote *Quote `json:"quote,omitempty"`
}
