package model

// Alignment selects how a multi-series subscription sees its referenced
// series. Single-series subscriptions ignore it.
type Alignment uint8

const (
	// AlignStrict fires only on finalizations where every referenced series
	// has a visible bar with the exact same end time. Guarantees
	// time-synchronized inputs (spreads, ratios) at the cost of firing at
	// the least-common cadence.
	AlignStrict Alignment = iota

	// AlignLastKnown fires on any mutation of any referenced series and
	// hands each other series its most recently known bar, stale or not.
	AlignLastKnown
)

func (a Alignment) String() string {
	switch a {
	case AlignStrict:
		return "strict"
	case AlignLastKnown:
		return "last-known"
	default:
		return "unknown"
	}
}

// SubscriptionOptions tunes one registration.
type SubscriptionOptions struct {
	// Name labels results ("SMA_20"). Optional; falls back to the id.
	Name string

	// IncludeUpdates enables per-tick previews from forming bars. nil
	// defers to the engine-wide EmitUpdates default.
	IncludeUpdates *bool

	// Alignment policy for multi-series subscriptions. Zero value is
	// AlignStrict.
	Alignment Alignment

	// WantOutputs requests named output components on every result.
	WantOutputs bool
}

// Bool is a convenience for populating IncludeUpdates.
func Bool(v bool) *bool { return &v }
