package indicator

import (
	"encoding/json"

	"indicator-systemv1/internal/model"
)

// SMA is the Simple Moving Average over a rolling window of finalized
// closes. Uses a preallocated circular buffer for a zero-allocation hot
// path.
type SMA struct {
	period int
	buf    []float64 // circular buffer, len == period
	idx    int       // next write position
	count  int       // total closes committed
	sum    float64
	cur    float64
}

// NewSMA creates an SMA state with the given period.
func NewSMA(period int) *SMA {
	return &SMA{period: period, buf: make([]float64, period)}
}

func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.cur = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

func (s *SMA) Update(bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	price := bar.Close
	if !final {
		// Preview: the forming close takes the slot the next commit
		// would, the oldest value falls out if the window is full.
		if s.count+1 < s.period {
			return model.IndicatorValue{}
		}
		if s.count < s.period {
			return model.IndicatorValue{Valid: true, Value: (s.sum + price) / float64(s.period)}
		}
		return model.IndicatorValue{Valid: true, Value: (s.sum - s.buf[s.idx] + price) / float64(s.period)}
	}

	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count < s.period {
		return model.IndicatorValue{}
	}
	s.cur = s.sum / float64(s.period)
	return model.IndicatorValue{Valid: true, Value: s.cur}
}

type smaSnapshot struct {
	Period int       `json:"period"`
	Buf    []float64 `json:"buf"`
	Idx    int       `json:"idx"`
	Count  int       `json:"count"`
	Sum    float64   `json:"sum"`
	Cur    float64   `json:"cur"`
}

func (s *SMA) Snapshot() ([]byte, error) {
	return json.Marshal(smaSnapshot{
		Period: s.period, Buf: s.buf, Idx: s.idx,
		Count: s.count, Sum: s.sum, Cur: s.cur,
	})
}

func (s *SMA) Restore(data []byte) error {
	var snap smaSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.period = snap.Period
	s.idx = snap.Idx
	s.count = snap.Count
	s.sum = snap.Sum
	s.cur = snap.Cur
	s.buf = make([]float64, snap.Period)
	copy(s.buf, snap.Buf)
	return nil
}
