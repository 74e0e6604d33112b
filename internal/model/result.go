package model

import (
	"encoding/json"
	"time"
)

// SubscriptionID identifies one registered indicator subscription.
type SubscriptionID int64

// IndicatorResult is what a subscription's callback receives whenever its
// state reports a value. Final is false for previews computed from a
// forming bar (only emitted when the subscription opted into updates).
type IndicatorResult struct {
	SubscriptionID SubscriptionID     `json:"subscription_id"`
	Name           string             `json:"name,omitempty"` // e.g. "SMA_20"
	Series         SeriesKey          `json:"series"`         // triggering series
	TS             time.Time          `json:"ts"`             // triggering bar end time
	Value          float64            `json:"value"`
	Outputs        map[string]float64 `json:"outputs,omitempty"`
	Final          bool               `json:"final"`
}

// StreamKey returns the stream key: "ind:{name}:{symbol}:{tf}".
func (r *IndicatorResult) StreamKey() string {
	name := r.Name
	if name == "" {
		name = "sub" + Itoa(int(r.SubscriptionID))
	}
	return "ind:" + name + ":" + r.Series.Key()
}

// PubSubChannel returns the pubsub channel for live consumers.
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:" + r.StreamKey()
}

// JSON returns the JSON-encoded result.
func (r *IndicatorResult) JSON() []byte {
	data, _ := json.Marshal(r)
	return data
}
