package indicator

import (
	"encoding/json"

	"indicator-systemv1/internal/model"
)

// MACD is Moving Average Convergence Divergence: a fast and a slow EMA over
// closes, and a signal EMA over the difference. Value carries the MACD
// line; the signal and histogram travel in Outputs when requested.
//
// The signal EMA only starts accumulating once both close EMAs are seeded,
// so the first value appears after slow+signal-1 closes (with the usual
// fast < slow configuration).
type MACD struct {
	fast   emaCore
	slow   emaCore
	signal emaCore
}

// NewMACD creates a MACD state, conventionally (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   newEMACore(fast),
		slow:   newEMACore(slow),
		signal: newEMACore(signal),
	}
}

func (m *MACD) Reset() {
	m.fast.reset()
	m.slow.reset()
	m.signal.reset()
}

func (m *MACD) Update(bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	price := bar.Close
	if !final {
		fastV, fok := m.fast.peek(price)
		slowV, sok := m.slow.peek(price)
		if !fok || !sok {
			return model.IndicatorValue{}
		}
		line := fastV - slowV
		sigV, ok := m.signal.peek(line)
		if !ok {
			return model.IndicatorValue{}
		}
		return m.result(line, sigV, wantOutputs)
	}

	m.fast.update(price)
	m.slow.update(price)
	if !m.fast.ready() || !m.slow.ready() {
		return model.IndicatorValue{}
	}
	line := m.fast.Cur - m.slow.Cur
	m.signal.update(line)
	if !m.signal.ready() {
		return model.IndicatorValue{}
	}
	return m.result(line, m.signal.Cur, wantOutputs)
}

func (m *MACD) result(line, signal float64, wantOutputs bool) model.IndicatorValue {
	out := model.IndicatorValue{Valid: true, Value: line}
	if wantOutputs {
		out.Outputs = map[string]float64{
			"macd":      line,
			"signal":    signal,
			"histogram": line - signal,
		}
	}
	return out
}

type macdSnapshot struct {
	Fast   emaCore `json:"fast"`
	Slow   emaCore `json:"slow"`
	Signal emaCore `json:"signal"`
}

func (m *MACD) Snapshot() ([]byte, error) {
	return json.Marshal(macdSnapshot{Fast: m.fast, Slow: m.slow, Signal: m.signal})
}

func (m *MACD) Restore(data []byte) error {
	var snap macdSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	m.fast = snap.Fast
	m.slow = snap.Slow
	m.signal = snap.Signal
	return nil
}
