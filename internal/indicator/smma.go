package indicator

import (
	"encoding/json"

	"indicator-systemv1/internal/model"
)

// SMMA is the Smoothed Moving Average: an SMA(period) seed followed by
// Wilder's recurrence cur = (cur*(period-1) + close) / period.
type SMMA struct {
	core emaCore
}

// NewSMMA creates an SMMA state with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{core: newWilderCore(period)}
}

func (s *SMMA) Reset() { s.core.reset() }

func (s *SMMA) Update(bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	if !final {
		v, ok := s.core.peek(bar.Close)
		return model.IndicatorValue{Valid: ok, Value: v}
	}
	s.core.update(bar.Close)
	return model.IndicatorValue{Valid: s.core.ready(), Value: s.core.Cur}
}

func (s *SMMA) Snapshot() ([]byte, error) { return json.Marshal(s.core) }
func (s *SMMA) Restore(data []byte) error { return json.Unmarshal(data, &s.core) }
