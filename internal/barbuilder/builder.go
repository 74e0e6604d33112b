// Package barbuilder turns raw trades and quotes into bar mutations for one
// series. Duration timeframes bucket by `ts - ts % tf` aligned to the Unix
// epoch; tick-count timeframes close a bar on its Nth trade. Exactly one
// event produces at most one finalization, and the hot path is O(1) with no
// history scans.
package barbuilder

import (
	"time"

	"indicator-systemv1/internal/model"
)

// Result describes what one event did to the series.
type Result struct {
	Current    model.Bar  // snapshot of the forming bar after the event
	HasCurrent bool       // false right after a tick-count finalization
	Finalized  *model.Bar // non-nil when the event closed a bar
	Mutated    bool       // false when the event was dropped (late)
}

// Builder owns the forming bar of a single series.
type Builder struct {
	key     model.SeriesKey
	cur     model.Bar
	started bool

	// lastEnd is the end of the most recently finalized bar. It survives
	// the cleared forming state after Advance and tick finalizations so
	// events older than finalized history are still dropped.
	lastEnd time.Time

	// OnLateEvent is called when an event older than the forming bar is
	// dropped (optional metrics hook).
	OnLateEvent func()
}

// New creates a builder for the series.
func New(key model.SeriesKey) *Builder {
	return &Builder{key: key}
}

// Key returns the series this builder feeds.
func (b *Builder) Key() model.SeriesKey { return b.key }

// IngestTrade applies one trade. Malformed trades are rejected with a
// wrapped model.ErrBadEvent and mutate nothing.
func (b *Builder) IngestTrade(t model.Trade) (Result, error) {
	if err := t.Validate(); err != nil {
		return Result{}, err
	}
	return b.ingest(t.TS, t.Price, t.Size, true), nil
}

// IngestQuote applies one quote. The midpoint contributes to high/low/close
// (and seeds a fresh bar if none is forming) but never counts as a trade:
// no volume, no trade count, and tick-count bars cannot be closed by
// quotes.
func (b *Builder) IngestQuote(q model.Quote) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, err
	}
	return b.ingest(q.TS, q.Mid(), 0, false), nil
}

// Advance closes an elapsed duration bar without a new event ("time
// passes"). No fresh bar is opened; the next event seeds one. A no-op for
// tick-count series and for series whose bucket has not elapsed.
func (b *Builder) Advance(now time.Time) Result {
	if !b.started || b.key.TF.ByTicks() {
		return Result{Current: b.cur, HasCurrent: b.started}
	}
	if now.Before(b.cur.End) {
		return Result{Current: b.cur, HasCurrent: true}
	}
	fin := b.cur
	fin.Forming = false
	b.cur = model.Bar{}
	b.started = false
	b.lastEnd = fin.End
	return Result{Finalized: &fin, Mutated: true}
}

func (b *Builder) ingest(ts time.Time, price, size float64, isTrade bool) Result {
	if !b.started {
		if ts.Before(b.lastEnd) {
			return b.dropLate()
		}
		b.open(ts, price, size, isTrade)
		if b.tickComplete(isTrade) {
			return b.finalizeTick(ts)
		}
		return Result{Current: b.cur, HasCurrent: true, Mutated: true}
	}

	if b.key.TF.ByTicks() {
		if ts.Before(b.cur.Start) {
			return b.dropLate()
		}
		b.merge(ts, price, size, isTrade)
		if b.tickComplete(isTrade) {
			return b.finalizeTick(ts)
		}
		return Result{Current: b.cur, HasCurrent: true, Mutated: true}
	}

	bucket := b.key.TF.BucketStart(ts)
	switch {
	case bucket.After(b.cur.Start):
		// Bucket rolled: finalize the old bar, open a fresh one seeded
		// with this event. Both mutations belong to this one event.
		fin := b.cur
		fin.Forming = false
		b.lastEnd = fin.End
		b.open(ts, price, size, isTrade)
		return Result{Current: b.cur, HasCurrent: true, Finalized: &fin, Mutated: true}
	case bucket.Before(b.cur.Start):
		return b.dropLate()
	default:
		b.merge(ts, price, size, isTrade)
		return Result{Current: b.cur, HasCurrent: true, Mutated: true}
	}
}

func (b *Builder) open(ts time.Time, price, size float64, isTrade bool) {
	bar := model.Bar{
		Symbol:  b.key.Symbol,
		Open:    price,
		High:    price,
		Low:     price,
		Close:   price,
		Forming: true,
	}
	if b.key.TF.ByTicks() {
		bar.Start = ts
		bar.End = ts
	} else {
		bar.Start = b.key.TF.BucketStart(ts)
		bar.End = b.key.TF.BucketEnd(ts)
	}
	if isTrade {
		bar.Volume = size
		bar.TradeCount = 1
	}
	b.cur = bar
	b.started = true
}

func (b *Builder) merge(ts time.Time, price, size float64, isTrade bool) {
	c := &b.cur
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	if isTrade {
		c.Volume += size
		c.TradeCount++
	}
	if b.key.TF.ByTicks() && ts.After(c.End) {
		c.End = ts
	}
}

func (b *Builder) tickComplete(isTrade bool) bool {
	return b.key.TF.ByTicks() && isTrade && b.cur.TradeCount >= b.key.TF.Ticks
}

// finalizeTick closes a tick-count bar on its Nth trade. The series has no
// forming bar until the next event opens one.
func (b *Builder) finalizeTick(ts time.Time) Result {
	fin := b.cur
	fin.Forming = false
	if ts.After(fin.End) {
		fin.End = ts
	}
	b.cur = model.Bar{}
	b.started = false
	b.lastEnd = fin.End
	return Result{Finalized: &fin, Mutated: true}
}

func (b *Builder) dropLate() Result {
	if b.OnLateEvent != nil {
		b.OnLateEvent()
	}
	return Result{Current: b.cur, HasCurrent: b.started}
}
