package model

// ── Indicator State Protocol ──
// Every streaming indicator implements one of these interfaces. States own a
// small fixed set of scalars (whatever the recurrence needs) and must never
// retain bar history; bounded history is the series store's job. Updates
// are O(1) amortized. Given the same ordered Update sequence, outputs must
// be bit-identical: no wall clock, no randomness, no map iteration.

// IndicatorValue is the outcome of one state update. Valid=false means
// "not yet computable" (warm-up, or a referenced series has no data) and is
// never an error: the dispatcher simply skips the callback.
type IndicatorValue struct {
	Valid   bool
	Value   float64
	Outputs map[string]float64 // named components, only when requested
}

// SingleSeriesState consumes bars of exactly one series.
//
// final=true commits the bar into the recurrence. final=false is a preview
// of the forming bar and MUST NOT mutate internal scalars: the same forming
// bar may be previewed many times before it finalizes.
type SingleSeriesState interface {
	Reset()
	Update(bar Bar, final bool, wantOutputs bool) IndicatorValue
}

// BarView is the read-only cross-series view handed to multi-series states
// during dispatch. It is borrowed: it must not be retained past the Update
// call that received it.
type BarView interface {
	// TryLatest returns the most relevant visible bar of the series, if any.
	// Which bar is visible (forming vs finalized, alignment-filtered) is
	// decided by the dispatcher that built the view.
	TryLatest(key SeriesKey) (Bar, bool)
}

// MultiSeriesState consumes bars of a primary series plus auxiliary series
// read through the view. Same commit/preview discipline as
// SingleSeriesState. Implementations must not mutate anything reachable
// through the view.
type MultiSeriesState interface {
	Reset()
	Update(view BarView, trigger SeriesKey, bar Bar, final bool, wantOutputs bool) IndicatorValue
}

// SnapshotState is implemented by states that support checkpoint
// persistence. Data is an opaque blob (JSON in practice); Restore must
// leave the state exactly as Snapshot captured it.
type SnapshotState interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Callback receives computed values for one subscription. Invoked only when
// the state reported a valid value, always on the engine's calling
// goroutine.
type Callback func(r IndicatorResult)

// EventSink is the ingestion surface feeds drive. The engine facade
// implements it.
type EventSink interface {
	OnTrade(t Trade) error
	OnQuote(q Quote) error
}
