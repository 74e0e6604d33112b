package indicator

import (
	"encoding/json"

	"indicator-systemv1/internal/model"
)

// Spread is the close-to-close difference between two series, left minus
// right. It is stateless: the value is recomputed from the aligned view on
// every trigger, so there is nothing to commit or snapshot.
type Spread struct {
	Left  model.SeriesKey
	Right model.SeriesKey
}

// NewSpread creates a spread state over the two series.
func NewSpread(left, right model.SeriesKey) *Spread {
	return &Spread{Left: left, Right: right}
}

func (s *Spread) Reset() {}

func (s *Spread) Update(view model.BarView, trigger model.SeriesKey, bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	l, r, ok := resolvePair(view, trigger, bar, s.Left, s.Right)
	if !ok {
		return model.IndicatorValue{}
	}
	return model.IndicatorValue{Valid: true, Value: l - r}
}

// Ratio is the close-to-close quotient between two series, left over right.
// No value while the right close is zero.
type Ratio struct {
	Left  model.SeriesKey
	Right model.SeriesKey
}

// NewRatio creates a ratio state over the two series.
func NewRatio(left, right model.SeriesKey) *Ratio {
	return &Ratio{Left: left, Right: right}
}

func (r *Ratio) Reset() {}

func (r *Ratio) Update(view model.BarView, trigger model.SeriesKey, bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	l, rv, ok := resolvePair(view, trigger, bar, r.Left, r.Right)
	if !ok || rv == 0 {
		return model.IndicatorValue{}
	}
	return model.IndicatorValue{Valid: true, Value: l / rv}
}

// SmoothedSpread runs Wilder smoothing over the spread between two series.
// The raw spread from a forming trigger only previews the smoothed value;
// finalized triggers commit it. Outputs carry the raw spread when
// requested.
type SmoothedSpread struct {
	left  model.SeriesKey
	right model.SeriesKey
	core  emaCore
}

// NewSmoothedSpread creates a smoothed spread state with the given period.
func NewSmoothedSpread(left, right model.SeriesKey, period int) *SmoothedSpread {
	return &SmoothedSpread{left: left, right: right, core: newWilderCore(period)}
}

func (s *SmoothedSpread) Reset() { s.core.reset() }

func (s *SmoothedSpread) Update(view model.BarView, trigger model.SeriesKey, bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	l, r, ok := resolvePair(view, trigger, bar, s.left, s.right)
	if !ok {
		return model.IndicatorValue{}
	}
	raw := l - r

	var v float64
	if final {
		s.core.update(raw)
		if !s.core.ready() {
			return model.IndicatorValue{}
		}
		v = s.core.Cur
	} else {
		var seeded bool
		if v, seeded = s.core.peek(raw); !seeded {
			return model.IndicatorValue{}
		}
	}

	out := model.IndicatorValue{Valid: true, Value: v}
	if wantOutputs {
		out.Outputs = map[string]float64{"spread": raw}
	}
	return out
}

func (s *SmoothedSpread) Snapshot() ([]byte, error) { return json.Marshal(s.core) }
func (s *SmoothedSpread) Restore(data []byte) error { return json.Unmarshal(data, &s.core) }

// resolvePair fetches the two closes, preferring the trigger bar itself
// over the view so the value reflects the mutation being dispatched.
func resolvePair(view model.BarView, trigger model.SeriesKey, bar model.Bar, left, right model.SeriesKey) (l, r float64, ok bool) {
	closeOf := func(key model.SeriesKey) (float64, bool) {
		if key == trigger {
			return bar.Close, true
		}
		b, found := view.TryLatest(key)
		if !found {
			return 0, false
		}
		return b.Close, true
	}

	l, lok := closeOf(left)
	r, rok := closeOf(right)
	return l, r, lok && rok
}
