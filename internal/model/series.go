package model

// SeriesKey identifies one logical stream of bars: a symbol at a timeframe.
// Comparable by value, so it serves as the map key throughout the engine.
type SeriesKey struct {
	Symbol string    `json:"symbol"`
	TF     Timeframe `json:"tf"`
}

// NewSeriesKey builds a SeriesKey.
func NewSeriesKey(symbol string, tf Timeframe) SeriesKey {
	return SeriesKey{Symbol: symbol, TF: tf}
}

// Key returns "symbol:60s". Used in stream keys and logs.
func (k SeriesKey) Key() string {
	return k.Symbol + ":" + k.TF.String()
}
