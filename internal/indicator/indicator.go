// Package indicator provides streaming technical indicator states over bar
// data.
//
// Single-series states implement model.SingleSeriesState: a finalized bar
// commits into the recurrence, a forming bar only previews the next value
// without mutating state. Multi-series states implement
// model.MultiSeriesState and read auxiliary series through a model.BarView.
// States that also implement model.SnapshotState can be checkpointed and
// restored across restarts.
package indicator

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"indicator-systemv1/internal/model"
)

// FromSpec builds a single-series state from a compact textual form such as
// "SMA:20", "EMA:9", "RSI:14" or "MACD:12:26:9". The returned name embeds
// the parameters (e.g. "SMA_20") and is suitable as a subscription name.
func FromSpec(spec string) (model.SingleSeriesState, string, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	kind := strings.ToUpper(parts[0])
	params := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, "", errors.Errorf("indicator spec %q: bad parameter %q", spec, p)
		}
		params = append(params, n)
	}

	switch kind {
	case "SMA":
		if len(params) != 1 {
			return nil, "", errors.Errorf("indicator spec %q: SMA takes one period", spec)
		}
		return NewSMA(params[0]), "SMA_" + model.Itoa(params[0]), nil
	case "EMA":
		if len(params) != 1 {
			return nil, "", errors.Errorf("indicator spec %q: EMA takes one period", spec)
		}
		return NewEMA(params[0]), "EMA_" + model.Itoa(params[0]), nil
	case "SMMA":
		if len(params) != 1 {
			return nil, "", errors.Errorf("indicator spec %q: SMMA takes one period", spec)
		}
		return NewSMMA(params[0]), "SMMA_" + model.Itoa(params[0]), nil
	case "RSI":
		if len(params) != 1 {
			return nil, "", errors.Errorf("indicator spec %q: RSI takes one period", spec)
		}
		return NewRSI(params[0]), "RSI_" + model.Itoa(params[0]), nil
	case "MACD":
		if len(params) != 3 {
			return nil, "", errors.Errorf("indicator spec %q: MACD takes fast:slow:signal", spec)
		}
		name := "MACD_" + model.Itoa(params[0]) + "_" + model.Itoa(params[1]) + "_" + model.Itoa(params[2])
		return NewMACD(params[0], params[1], params[2]), name, nil
	default:
		return nil, "", errors.Errorf("indicator spec %q: unknown kind %q", spec, kind)
	}
}
