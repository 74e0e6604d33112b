package indicator

import (
	"encoding/json"

	"indicator-systemv1/internal/model"
)

// RSI is the Relative Strength Index with Wilder's smoothing. O(1) per bar,
// no history scans. The first value appears after period+1 closes (one
// close is consumed establishing the first delta).
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	cur       float64
}

// NewRSI creates an RSI state with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.cur = 0
}

func (r *RSI) Update(bar model.Bar, final, wantOutputs bool) model.IndicatorValue {
	if !final {
		return r.preview(bar.Close, wantOutputs)
	}

	price := bar.Close
	r.count++
	if r.count == 1 {
		// First close establishes the baseline, no delta yet.
		r.prevClose = price
		return model.IndicatorValue{}
	}

	gain, loss := splitDelta(price - r.prevClose)
	r.prevClose = price

	if r.count <= r.period+1 {
		// Accumulation phase for the initial averages.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count < r.period+1 {
			return model.IndicatorValue{}
		}
		r.avgGain /= float64(r.period)
		r.avgLoss /= float64(r.period)
	} else {
		p := float64(r.period)
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}

	r.cur = rsiFrom(r.avgGain, r.avgLoss)
	return r.result(r.cur, r.avgGain, r.avgLoss, wantOutputs)
}

// preview computes RSI as if the forming close committed next, without
// mutating state. No value until the committed averages exist.
func (r *RSI) preview(price float64, wantOutputs bool) model.IndicatorValue {
	if r.count <= r.period {
		return model.IndicatorValue{}
	}
	gain, loss := splitDelta(price - r.prevClose)
	p := float64(r.period)
	ag := (r.avgGain*(p-1) + gain) / p
	al := (r.avgLoss*(p-1) + loss) / p
	return r.result(rsiFrom(ag, al), ag, al, wantOutputs)
}

func (r *RSI) result(v, avgGain, avgLoss float64, wantOutputs bool) model.IndicatorValue {
	out := model.IndicatorValue{Valid: true, Value: v}
	if wantOutputs {
		out.Outputs = map[string]float64{"avg_gain": avgGain, "avg_loss": avgLoss}
	}
	return out
}

func splitDelta(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

type rsiSnapshot struct {
	Period    int     `json:"period"`
	Count     int     `json:"count"`
	PrevClose float64 `json:"prev_close"`
	AvgGain   float64 `json:"avg_gain"`
	AvgLoss   float64 `json:"avg_loss"`
	Cur       float64 `json:"cur"`
}

func (r *RSI) Snapshot() ([]byte, error) {
	return json.Marshal(rsiSnapshot{
		Period: r.period, Count: r.count, PrevClose: r.prevClose,
		AvgGain: r.avgGain, AvgLoss: r.avgLoss, Cur: r.cur,
	})
}

func (r *RSI) Restore(data []byte) error {
	var snap rsiSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	r.period = snap.Period
	r.count = snap.Count
	r.prevClose = snap.PrevClose
	r.avgGain = snap.AvgGain
	r.avgLoss = snap.AvgLoss
	r.cur = snap.Cur
	return nil
}
