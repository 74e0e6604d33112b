package indicator

import (
	"encoding/json"

	"indicator-systemv1/internal/model"
)

// emaCore is the exponential smoothing recurrence shared by EMA, SMMA and
// MACD. The first Period inputs accumulate an SMA seed, after which
// cur = in*mult + cur*(1-mult). Fields are exported for JSON checkpoints.
type emaCore struct {
	Period int     `json:"period"`
	Mult   float64 `json:"mult"`
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Cur    float64 `json:"cur"`
}

// newEMACore uses the standard EMA multiplier 2/(period+1).
func newEMACore(period int) emaCore {
	return emaCore{Period: period, Mult: 2.0 / float64(period+1)}
}

// newWilderCore uses Wilder's multiplier 1/period (SMMA, RSI smoothing).
func newWilderCore(period int) emaCore {
	return emaCore{Period: period, Mult: 1.0 / float64(period)}
}

func (c *emaCore) ready() bool { return c.Count >= c.Period }

func (c *emaCore) update(in float64) {
	c.Count++
	if c.Count <= c.Period {
		// Accumulate for the initial SMA seed.
		c.Sum += in
		if c.Count == c.Period {
			c.Cur = c.Sum / float64(c.Period)
		}
		return
	}
	c.Cur = in*c.Mult + c.Cur*(1-c.Mult)
}

// peek computes what Cur would be after one more input without mutating
// state. The second return is false while even the peeked value would not
// yet be seeded.
func (c *emaCore) peek(in float64) (float64, bool) {
	switch {
	case c.Count+1 < c.Period:
		return 0, false
	case c.Count+1 == c.Period:
		return (c.Sum + in) / float64(c.Period), true
	default:
		return in*c.Mult + c.Cur*(1-c.Mult), true
	}
}

func (c *emaCore) reset() {
	c.Count = 0
	c.Sum = 0
	c.Cur = 0
}

// EMA is the Exponential Moving Average over finalized closes. O(1) per
// bar, no window storage.
type EMA struct {
	core emaCore
}

// NewEMA creates an EMA state with the given period.
func NewEMA(period int) *EMA {
	return &EMA{core: newEMACore(period)}
}

func (e *EMA) Reset() { e.core.reset() }

func (e *EMA) Update(bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	if !final {
		v, ok := e.core.peek(bar.Close)
		return model.IndicatorValue{Valid: ok, Value: v}
	}
	e.core.update(bar.Close)
	return model.IndicatorValue{Valid: e.core.ready(), Value: e.core.Cur}
}

func (e *EMA) Snapshot() ([]byte, error)  { return json.Marshal(e.core) }
func (e *EMA) Restore(data []byte) error  { return json.Unmarshal(data, &e.core) }
