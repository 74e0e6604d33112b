package barbuilder

import (
	"errors"
	"testing"
	"time"

	"indicator-systemv1/internal/model"
)

func trade(symbol string, sec int64, price, size float64) model.Trade {
	return model.Trade{Symbol: symbol, TS: time.Unix(sec, 0).UTC(), Price: price, Size: size}
}

func quote(symbol string, sec int64, bid, ask float64) model.Quote {
	return model.Quote{Symbol: symbol, TS: time.Unix(sec, 0).UTC(), Bid: bid, Ask: ask, BidSize: 1, AskSize: 1}
}

// The canonical minute-bar scenario: four trades inside one minute, then a
// trade in the next minute closes the bar.
func TestBuilder_MinuteBarFinalization(t *testing.T) {
	b := New(model.NewSeriesKey("AAPL", model.Minutes(1)))
	base := int64(1700000040) // inside minute bucket [1700000040, 1700000100)
	base -= base % 60

	prices := []float64{100, 101, 99, 102}
	for i, p := range prices {
		res, err := b.IngestTrade(trade("AAPL", base+int64(i*10), p, 10))
		if err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
		if res.Finalized != nil {
			t.Fatalf("trade %d: unexpected finalization", i)
		}
		if !res.HasCurrent || !res.Current.Forming {
			t.Fatalf("trade %d: expected a forming bar", i)
		}
	}

	// First trade of the next minute.
	res, err := b.IngestTrade(trade("AAPL", base+60, 103, 5))
	if err != nil {
		t.Fatal(err)
	}
	fin := res.Finalized
	if fin == nil {
		t.Fatal("expected a finalized bar on bucket roll")
	}
	if fin.Open != 100 || fin.High != 102 || fin.Low != 99 || fin.Close != 102 {
		t.Errorf("finalized OHLC = %v/%v/%v/%v, want 100/102/99/102", fin.Open, fin.High, fin.Low, fin.Close)
	}
	if fin.TradeCount != 4 {
		t.Errorf("expected trade count 4, got %d", fin.TradeCount)
	}
	if fin.Volume != 40 {
		t.Errorf("expected volume 40, got %v", fin.Volume)
	}
	if fin.Forming {
		t.Error("finalized bar must not be forming")
	}
	if !fin.End.Equal(time.Unix(base+60, 0).UTC()) {
		t.Errorf("expected end=%d, got %v", base+60, fin.End)
	}

	// Fresh current bar opened with the triggering trade.
	if !res.HasCurrent || res.Current.Open != 103 || res.Current.Close != 103 {
		t.Errorf("expected fresh bar open=close=103, got %+v", res.Current)
	}
	if res.Current.TradeCount != 1 {
		t.Errorf("fresh bar trade count = %d, want 1", res.Current.TradeCount)
	}
}

func TestBuilder_TickCountFinalization(t *testing.T) {
	b := New(model.NewSeriesKey("BTCUSD", model.TickCount(3)))

	for i := 0; i < 2; i++ {
		res, err := b.IngestTrade(trade("BTCUSD", int64(100+i), 50000+float64(i), 1))
		if err != nil {
			t.Fatal(err)
		}
		if res.Finalized != nil {
			t.Fatalf("trade %d: premature finalization", i)
		}
	}

	res, err := b.IngestTrade(trade("BTCUSD", 102, 50005, 2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Finalized == nil {
		t.Fatal("third trade must finalize a 3-tick bar")
	}
	if res.Finalized.TradeCount != 3 {
		t.Errorf("trade count = %d, want 3", res.Finalized.TradeCount)
	}
	if res.HasCurrent {
		t.Error("tick series has no forming bar right after finalization")
	}

	// Next trade opens a fresh bar.
	res, err = b.IngestTrade(trade("BTCUSD", 103, 50010, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasCurrent || res.Current.Open != 50010 || res.Current.TradeCount != 1 {
		t.Errorf("expected fresh bar seeded by the 4th trade, got %+v", res.Current)
	}
}

func TestBuilder_SingleTickBars(t *testing.T) {
	b := New(model.NewSeriesKey("X", model.TickCount(1)))
	res, err := b.IngestTrade(trade("X", 10, 5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Finalized == nil || res.Finalized.TradeCount != 1 {
		t.Fatalf("1-tick timeframe must finalize on every trade, got %+v", res)
	}
}

func TestBuilder_QuotesShapeButNeverCount(t *testing.T) {
	b := New(model.NewSeriesKey("AAPL", model.Minutes(1)))
	base := int64(1700000100)
	base -= base % 60

	// A quote can seed the bar.
	res, err := b.IngestQuote(quote("AAPL", base, 99, 101))
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasCurrent || res.Current.Open != 100 {
		t.Fatalf("expected quote mid=100 to seed the bar, got %+v", res.Current)
	}
	if res.Current.TradeCount != 0 || res.Current.Volume != 0 {
		t.Errorf("quotes must not contribute count/volume: %+v", res.Current)
	}

	// A wide quote stretches high/low but still adds no volume.
	res, err = b.IngestQuote(quote("AAPL", base+1, 90, 110))
	if err != nil {
		t.Fatal(err)
	}
	if res.Current.High != 100 || res.Current.Low != 100 {
		// mid is 100 again; high/low unchanged
		t.Errorf("unexpected OHLC from symmetric quote: %+v", res.Current)
	}

	res, err = b.IngestQuote(quote("AAPL", base+2, 104, 106))
	if err != nil {
		t.Fatal(err)
	}
	if res.Current.High != 105 || res.Current.Close != 105 {
		t.Errorf("expected mid=105 to lift high/close, got %+v", res.Current)
	}
	if res.Current.TradeCount != 0 {
		t.Errorf("trade count must stay 0, got %d", res.Current.TradeCount)
	}
}

func TestBuilder_QuoteCannotCloseTickBar(t *testing.T) {
	b := New(model.NewSeriesKey("X", model.TickCount(2)))
	if _, err := b.IngestTrade(trade("X", 1, 10, 1)); err != nil {
		t.Fatal(err)
	}
	// Many quotes, still one trade: never finalizes.
	for i := int64(2); i < 10; i++ {
		res, err := b.IngestQuote(quote("X", i, 9, 11))
		if err != nil {
			t.Fatal(err)
		}
		if res.Finalized != nil {
			t.Fatal("quote must not close a tick-count bar")
		}
	}
}

func TestBuilder_LateEventsDropped(t *testing.T) {
	b := New(model.NewSeriesKey("AAPL", model.Minutes(1)))
	late := 0
	b.OnLateEvent = func() { late++ }

	base := int64(1700000160)
	base -= base % 60
	if _, err := b.IngestTrade(trade("AAPL", base+60, 100, 1)); err != nil {
		t.Fatal(err)
	}

	// A trade from the previous minute is dropped, bar untouched.
	res, err := b.IngestTrade(trade("AAPL", base, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Mutated {
		t.Error("late trade must not mutate the bar")
	}
	if res.Current.Low != 100 {
		t.Errorf("late price leaked into the bar: %+v", res.Current)
	}
	if late != 1 {
		t.Errorf("expected 1 late-event callback, got %d", late)
	}
}

func TestBuilder_RejectsMalformedEvents(t *testing.T) {
	b := New(model.NewSeriesKey("AAPL", model.Minutes(1)))

	cases := []model.Trade{
		{Symbol: "AAPL", TS: time.Unix(1, 0), Price: 0, Size: 1},
		{Symbol: "AAPL", TS: time.Unix(1, 0), Price: -5, Size: 1},
		{Symbol: "AAPL", TS: time.Unix(1, 0), Price: 10, Size: 0},
		{Symbol: "", TS: time.Unix(1, 0), Price: 10, Size: 1},
		{Symbol: "AAPL", Price: 10, Size: 1}, // zero timestamp
	}
	for i, tr := range cases {
		res, err := b.IngestTrade(tr)
		if !errors.Is(err, model.ErrBadEvent) {
			t.Errorf("case %d: expected ErrBadEvent, got %v", i, err)
		}
		if res.Mutated {
			t.Errorf("case %d: rejected event must not mutate", i)
		}
	}

	if _, err := b.IngestQuote(model.Quote{Symbol: "AAPL", TS: time.Unix(1, 0), Bid: -1, Ask: 2}); !errors.Is(err, model.ErrBadEvent) {
		t.Errorf("expected ErrBadEvent for bad quote, got %v", err)
	}
}

func TestBuilder_AdvanceClosesElapsedBar(t *testing.T) {
	b := New(model.NewSeriesKey("AAPL", model.Minutes(1)))
	base := int64(1700000220)
	base -= base % 60

	if _, err := b.IngestTrade(trade("AAPL", base+5, 100, 1)); err != nil {
		t.Fatal(err)
	}

	// Not elapsed yet.
	if res := b.Advance(time.Unix(base+30, 0).UTC()); res.Finalized != nil {
		t.Fatal("bar closed before its bucket elapsed")
	}

	res := b.Advance(time.Unix(base+60, 0).UTC())
	if res.Finalized == nil {
		t.Fatal("expected elapsed bar to be closed")
	}
	if res.HasCurrent {
		t.Error("advance must not open a fresh bar")
	}
	if res.Finalized.Close != 100 {
		t.Errorf("unexpected close %v", res.Finalized.Close)
	}

	// Idempotent once closed.
	if res := b.Advance(time.Unix(base+120, 0).UTC()); res.Mutated {
		t.Error("advance with no forming bar must be a no-op")
	}
}

// A trade timestamped inside a bucket that Advance already closed must be
// dropped, not re-open the finalized bucket.
func TestBuilder_LateTradeAfterAdvanceDropped(t *testing.T) {
	b := New(model.NewSeriesKey("AAPL", model.Minutes(1)))
	late := 0
	b.OnLateEvent = func() { late++ }

	base := int64(1700000280)
	base -= base % 60

	if _, err := b.IngestTrade(trade("AAPL", base+10, 100, 1)); err != nil {
		t.Fatal(err)
	}
	if res := b.Advance(time.Unix(base+60, 0).UTC()); res.Finalized == nil {
		t.Fatal("expected elapsed bar to be closed")
	}

	// Straggler from the finalized bucket.
	res, err := b.IngestTrade(trade("AAPL", base+20, 101, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Mutated {
		t.Error("late trade must not re-open a finalized bucket")
	}
	if res.HasCurrent {
		t.Error("no forming bar may exist after a dropped straggler")
	}
	if late != 1 {
		t.Errorf("expected 1 late-event callback, got %d", late)
	}

	// The next on-time trade opens the following bucket normally.
	res, err = b.IngestTrade(trade("AAPL", base+70, 102, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Mutated || !res.HasCurrent {
		t.Fatal("expected a fresh forming bar in the next bucket")
	}
	if !res.Current.Start.Equal(time.Unix(base+60, 0).UTC()) {
		t.Errorf("forming bar start = %v, want %v", res.Current.Start, time.Unix(base+60, 0).UTC())
	}
}

// Same hole on the tick-count path: a trade older than the Nth trade that
// closed the previous bar must not seed a new bar behind finalized history.
func TestBuilder_LateTradeAfterTickCloseDropped(t *testing.T) {
	b := New(model.NewSeriesKey("AAPL", model.TickCount(2)))
	late := 0
	b.OnLateEvent = func() { late++ }

	base := int64(1700000340)
	if _, err := b.IngestTrade(trade("AAPL", base, 100, 1)); err != nil {
		t.Fatal(err)
	}
	res, err := b.IngestTrade(trade("AAPL", base+10, 101, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Finalized == nil {
		t.Fatal("expected second trade to close the tick bar")
	}

	res, err = b.IngestTrade(trade("AAPL", base+5, 99, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Mutated || res.HasCurrent {
		t.Error("trade older than the closed tick bar must be dropped")
	}
	if late != 1 {
		t.Errorf("expected 1 late-event callback, got %d", late)
	}
}
